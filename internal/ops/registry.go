package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gorm.io/gorm"

	"github.com/RishiDarkDevil/binance-spot-controller/pkg/conn"
)

// SymbolID is the numeric identifier baked into ring names.
type SymbolID uint16

// SymbolInfo maps a lowercase exchange symbol to its numeric ID. The gorm
// tags let the same struct back the optional database loader.
type SymbolInfo struct {
	SymbolID SymbolID `json:"id" gorm:"column:symbol_id;primaryKey"`
	Name     string   `json:"name" gorm:"column:name;uniqueIndex"`
}

// TableName sets the table used by the database loader.
func (SymbolInfo) TableName() string {
	return "symbol_infos"
}

// Registry stores symbol name/ID mappings in a compact form.
type Registry struct {
	symbols  []SymbolInfo
	byName   map[string]SymbolID
	byNumber map[SymbolID]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]SymbolID),
		byNumber: make(map[SymbolID]string),
	}
}

// Add registers one symbol mapping. Both names and IDs must be unique.
func (r *Registry) Add(name string, id SymbolID) error {
	if name == "" {
		return fmt.Errorf("ops: symbol name is empty")
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("ops: symbol already registered: %s", name)
	}
	if prev, ok := r.byNumber[id]; ok {
		return fmt.Errorf("ops: symbol id %d already used by %s", id, prev)
	}
	r.symbols = append(r.symbols, SymbolInfo{SymbolID: id, Name: name})
	r.byName[name] = id
	r.byNumber[id] = name
	return nil
}

// ID resolves a symbol name.
func (r *Registry) ID(name string) (SymbolID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Name resolves a symbol ID.
func (r *Registry) Name(id SymbolID) (string, bool) {
	name, ok := r.byNumber[id]
	return name, ok
}

// Symbols returns all mappings ordered by ID.
func (r *Registry) Symbols() []SymbolInfo {
	out := make([]SymbolInfo, len(r.symbols))
	copy(out, r.symbols)
	sort.Slice(out, func(i, j int) bool { return out[i].SymbolID < out[j].SymbolID })
	return out
}

// Len returns the number of registered symbols.
func (r *Registry) Len() int {
	return len(r.symbols)
}

// BuildRegistry assigns sequential IDs starting at 0 to the given symbol
// names, in order. Used when no explicit mapping file is configured.
func BuildRegistry(names []string) (*Registry, error) {
	reg := NewRegistry()
	for i, name := range names {
		if err := reg.Add(name, SymbolID(i)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// SymbolUnion collects the distinct symbols across all feeds, in first-seen
// order. This is the implicit registry when no mapping file is configured.
func SymbolUnion(feeds []FeedSpec) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, spec := range feeds {
		for _, symbol := range spec.Symbols {
			if _, ok := seen[symbol]; ok {
				continue
			}
			seen[symbol] = struct{}{}
			out = append(out, symbol)
		}
	}
	return out
}

// ResolveRegistry loads the symbol mapping from postgres when a conn
// string is given, else from a mapping file when a path is given, else
// derives sequential IDs from the config's symbol union. Every configured
// symbol must resolve.
func ResolveRegistry(loaded *Loaded, path, connString string) (*Registry, error) {
	var reg *Registry
	var err error
	switch {
	case connString != "":
		reg, err = LoadRegistryPostgres(connString)
	case path != "":
		reg, err = LoadRegistry(path)
	default:
		reg, err = BuildRegistry(SymbolUnion(loaded.Feeds))
	}
	if err != nil {
		return nil, err
	}
	for _, spec := range loaded.Feeds {
		for _, symbol := range spec.Symbols {
			if _, ok := reg.ID(symbol); !ok {
				return nil, fmt.Errorf("ops: symbol %q not present in registry", symbol)
			}
		}
	}
	return reg, nil
}

type registryFile struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// LoadRegistry reads an explicit symbol mapping from a JSON file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ops: read registry %q: %w", path, err)
	}
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("ops: parse registry %q: %w", path, err)
	}
	reg := NewRegistry()
	for _, sym := range file.Symbols {
		if err := reg.Add(sym.Name, sym.SymbolID); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadRegistryPostgres connects to postgres and loads the symbol mapping.
// Used by deployments that manage symbol IDs centrally instead of shipping
// a mapping file.
func LoadRegistryPostgres(connString string) (*Registry, error) {
	client, err := conn.New(conn.Option{ConnString: connString})
	if err != nil {
		return nil, fmt.Errorf("ops: connect registry database: %w", err)
	}
	defer client.Close()
	return LoadRegistryDB(client.DB())
}

// LoadRegistryDB reads the symbol mapping from a database. The schema is
// whatever gorm derives from SymbolInfo.
func LoadRegistryDB(db *gorm.DB) (*Registry, error) {
	var rows []SymbolInfo
	if err := db.Order("symbol_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ops: load registry from database: %w", err)
	}
	reg := NewRegistry()
	for _, sym := range rows {
		if err := reg.Add(sym.Name, sym.SymbolID); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
