// Package regmap loads the per brand/model register catalogs and the device
// capability documents that bind device attributes to registers.
package regmap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"github.com/thatsimonsguy/modbus-hvac/internal/conversion"
	"github.com/thatsimonsguy/modbus-hvac/internal/model"
)

// Modbus function codes used for writes.
const (
	WriteSingleCoil        = 5
	WriteSingleRegister    = 6
	WriteMultipleCoils     = 15
	WriteMultipleRegisters = 16
)

const defaultPrecision = 2

// Entry describes one register of a brand/model.
type Entry struct {
	Read      conversion.Pipeline `json:"conv_f_read" yaml:"conv_f_read"`
	Signed    bool                `json:"signed" yaml:"signed"`
	Precision *int                `json:"precision" yaml:"precision"`
	Min       *float64            `json:"min" yaml:"min"`
	Max       *float64            `json:"max" yaml:"max"`
}

func (e Entry) Decimals() int {
	if e.Precision == nil {
		return defaultPrecision
	}
	return *e.Precision
}

// InDomain reports whether a physical value may be written to this register.
func (e Entry) InDomain(v float64) bool {
	if e.Min != nil && v < *e.Min {
		return false
	}
	if e.Max != nil && v > *e.Max {
		return false
	}
	return true
}

// RegisterMap is the catalog of one brand/model. It is shared read-only by every
// device of that brand/model.
type RegisterMap struct {
	Key      string
	Tables   map[model.Datatype]map[int]Entry
	MaxBatch int
	WriteOps []int
}

func (m *RegisterMap) Entry(dt model.Datatype, addr int) (Entry, bool) {
	e, ok := m.Tables[dt][addr]
	return e, ok
}

// Addresses returns the sorted addresses mapped in one table.
func (m *RegisterMap) Addresses(dt model.Datatype) []int {
	addrs := make([]int, 0, len(m.Tables[dt]))
	for a := range m.Tables[dt] {
		addrs = append(addrs, a)
	}
	sort.Ints(addrs)
	return addrs
}

// WriteOp picks the function code used to write one value into dt.
func (m *RegisterMap) WriteOp(dt model.Datatype) (int, bool) {
	var single, multiple int
	switch dt {
	case model.Coil:
		single, multiple = WriteSingleCoil, WriteMultipleCoils
	case model.HoldingRegister:
		single, multiple = WriteSingleRegister, WriteMultipleRegisters
	default:
		return 0, false
	}
	if len(m.WriteOps) == 0 || m.supports(single) {
		return single, true
	}
	if m.supports(multiple) {
		return multiple, true
	}
	return 0, false
}

func (m *RegisterMap) supports(op int) bool {
	for _, w := range m.WriteOps {
		if w == op {
			return true
		}
	}
	return false
}

type mapDocument struct {
	CO       map[string]Entry `json:"co" yaml:"co"`
	DI       map[string]Entry `json:"di" yaml:"di"`
	HR       map[string]Entry `json:"hr" yaml:"hr"`
	IR       map[string]Entry `json:"ir" yaml:"ir"`
	QRegsMax int              `json:"qregsmax" yaml:"qregsmax"`
	WOP      []int            `json:"wop" yaml:"wop"`
}

// Format of a document on disk.
type Format int

const (
	JSON Format = iota
	YAML
)

func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, true
	case ".yaml", ".yml":
		return YAML, true
	}
	return JSON, false
}

// ParseRegisterMaps decodes a register map document. A document may hold
// several brand/models, one per top-level key.
func ParseRegisterMaps(data []byte, format Format) (map[string]*RegisterMap, error) {
	docs := map[string]mapDocument{}
	var err error
	if format == YAML {
		err = yaml.Unmarshal(data, &docs)
	} else {
		err = json.Unmarshal(data, &docs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse register map: %w", err)
	}

	var result *multierror.Error
	maps := make(map[string]*RegisterMap, len(docs))
	for key, doc := range docs {
		rm := &RegisterMap{
			Key:      key,
			Tables:   map[model.Datatype]map[int]Entry{},
			MaxBatch: doc.QRegsMax,
			WriteOps: doc.WOP,
		}
		buckets := map[model.Datatype]map[string]Entry{
			model.Coil:            doc.CO,
			model.DiscreteInput:   doc.DI,
			model.HoldingRegister: doc.HR,
			model.InputRegister:   doc.IR,
		}
		for dt, bucket := range buckets {
			table := make(map[int]Entry, len(bucket))
			for k, e := range bucket {
				addr, err := strconv.Atoi(strings.TrimSpace(k))
				if err != nil || addr < 0 || addr > 0xFFFF {
					result = multierror.Append(result, fmt.Errorf("%s: %s address %q is not a register address", key, dt, k))
					continue
				}
				if err := e.Read.Validate(); err != nil {
					result = multierror.Append(result, fmt.Errorf("%s: %s %d: %w", key, dt, addr, err))
					continue
				}
				table[addr] = e
			}
			rm.Tables[dt] = table
		}
		if doc.QRegsMax < 0 {
			result = multierror.Append(result, fmt.Errorf("%s: qregsmax must not be negative", key))
		}
		maps[key] = rm
	}
	return maps, result.ErrorOrNil()
}

// LoadRegisterMaps reads every .json/.yaml/.yml document in dir.
func LoadRegisterMaps(dir string) (map[string]*RegisterMap, error) {
	files, err := documents(dir)
	if err != nil {
		return nil, err
	}

	var result *multierror.Error
	all := map[string]*RegisterMap{}
	for _, path := range files {
		format, _ := FormatFor(path)
		data, err := os.ReadFile(path)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		maps, err := ParseRegisterMaps(data, format)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", path, err))
		}
		for k, m := range maps {
			if _, dup := all[k]; dup {
				result = multierror.Append(result, fmt.Errorf("%s: register map %s defined twice", path, k))
				continue
			}
			all[k] = m
		}
	}
	return all, result.ErrorOrNil()
}

func documents(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read document dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatFor(e.Name()); ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Key builds the "brand_model" catalog key.
func Key(brand, modelName string) string {
	return brand + "_" + modelName
}
