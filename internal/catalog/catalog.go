// Package catalog loads the master menu: the canonical list of items that
// free-text menu names are mapped onto.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/menumap/internal/normalize"
)

// minNameLength is the shortest normalized name worth indexing.
const minNameLength = 4

// excludedFragments mark internal or placeholder SKUs that must never be
// offered as a match.
var excludedFragments = []string{"bulk", "inv-", "test"}

// MenuItem is one master menu entry.
type MenuItem struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Usage int    `json:"usage"`
}

// Document is the indexable text form of a MenuItem: "<id>,<normalized name>".
type Document struct {
	ItemID int
	Text   string
}

// rawItem mirrors the JSON schema; pointers distinguish missing fields from
// zero values.
type rawItem struct {
	ID    *int    `json:"id" validate:"required"`
	Name  *string `json:"name" validate:"required"`
	Usage *int    `json:"usage" validate:"required,gte=0"`
}

var validate = validator.New()

// Catalog is an immutable, filtered view of the master menu.
type Catalog struct {
	items map[int]MenuItem
	docs  []Document
}

// Load reads and validates the catalog JSON file at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a JSON array of {id, name, usage} objects. Every element must
// carry all three fields and usage must be non-negative; the first invalid
// element fails the whole load.
func Parse(r io.Reader) (*Catalog, error) {
	var raw []rawItem
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	items := make([]MenuItem, 0, len(raw))
	for i, it := range raw {
		if err := validate.Struct(it); err != nil {
			return nil, fmt.Errorf("catalog item %d: %w", i, err)
		}
		items = append(items, MenuItem{ID: *it.ID, Name: *it.Name, Usage: *it.Usage})
	}
	return New(items), nil
}

// New builds a Catalog from items, dropping entries that are excluded from
// matching. Duplicate IDs keep the first occurrence.
func New(items []MenuItem) *Catalog {
	c := &Catalog{items: make(map[int]MenuItem, len(items))}
	for _, it := range items {
		name := normalize.Name(it.Name)
		if excluded(strings.ToLower(it.Name), name) {
			continue
		}
		if _, dup := c.items[it.ID]; dup {
			slog.Warn("duplicate catalog id, keeping first", "id", it.ID, "name", it.Name)
			continue
		}
		c.items[it.ID] = it
		c.docs = append(c.docs, Document{ItemID: it.ID, Text: strconv.Itoa(it.ID) + "," + name})
	}
	return c
}

// excluded reports whether an item must stay out of the catalog. Fragments
// are matched against the raw name too, since normalization turns "inv-"
// into "inv ".
func excluded(raw, normalized string) bool {
	if len(normalized) < minNameLength {
		return true
	}
	for _, frag := range excludedFragments {
		if strings.Contains(raw, frag) || strings.Contains(normalized, frag) {
			return true
		}
	}
	return false
}

// Get returns the item with the given ID.
func (c *Catalog) Get(id int) (MenuItem, bool) {
	it, ok := c.items[id]
	return it, ok
}

// Len returns the number of indexable items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// Items returns all indexable items ordered by ID.
func (c *Catalog) Items() []MenuItem {
	out := make([]MenuItem, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Documents returns the indexable documents in load order.
func (c *Catalog) Documents() []Document {
	return c.docs
}

// Fingerprint is a stable hash of the indexable documents, used to detect
// whether the vector index is stale.
func (c *Catalog) Fingerprint() string {
	texts := make([]string, len(c.docs))
	for i, d := range c.docs {
		texts[i] = d.Text
	}
	sort.Strings(texts)
	h := sha256.New()
	for _, t := range texts {
		h.Write([]byte(t))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
