// Package bindings holds the meme board shortcut registry.
package bindings

import (
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidAccelerator = errors.New("invalid accelerator")
	ErrInvalidItem        = errors.New("invalid meme item id")
	ErrNotBound           = errors.New("accelerator is not bound")
)

var modifierAliases = map[string]string{
	"ctrl":             "Ctrl",
	"control":          "Ctrl",
	"cmd":              "Cmd",
	"command":          "Cmd",
	"super":            "Super",
	"meta":             "Super",
	"alt":              "Alt",
	"option":           "Alt",
	"shift":            "Shift",
	"commandorcontrol": "CommandOrControl",
	"cmdorctrl":        "CommandOrControl",
}

// Binding is a single accelerator to meme item mapping.
type Binding struct {
	Accelerator string
	ItemID      string
}

// Normalize canonicalizes an accelerator such as " ctrl + shift+ k " into
// "Ctrl+Shift+K". Modifiers are case-insensitive; the key is upper-cased
// when it is a single character.
func Normalize(accelerator string) (string, error) {
	raw := strings.Split(strings.TrimSpace(accelerator), "+")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", errors.Wrapf(ErrInvalidAccelerator, "empty part in %q", accelerator)
		}
		parts = append(parts, p)
	}

	key := parts[len(parts)-1]
	if _, isModifier := modifierAliases[strings.ToLower(key)]; isModifier {
		return "", errors.Wrapf(ErrInvalidAccelerator, "missing key in %q", accelerator)
	}
	if len(key) == 1 {
		key = strings.ToUpper(key)
	}

	out := make([]string, 0, len(parts))
	for _, m := range parts[:len(parts)-1] {
		canonical, ok := modifierAliases[strings.ToLower(m)]
		if !ok {
			return "", errors.Wrapf(ErrInvalidAccelerator, "unknown modifier %q", m)
		}
		out = append(out, canonical)
	}
	out = append(out, key)
	return strings.Join(out, "+"), nil
}

// Registry maps accelerators to meme item ids with thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]string),
	}
}

// Set replaces all bindings. Invalid entries are skipped and reported in the
// returned error; valid entries are still applied.
func (r *Registry) Set(all map[string]string) error {
	next := make(map[string]string, len(all))
	var errs error
	for accel, item := range all {
		norm, err := Normalize(accel)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		item = strings.TrimSpace(item)
		if item == "" {
			errs = errors.CombineErrors(errs, errors.Wrapf(ErrInvalidItem, "accelerator %s", norm))
			continue
		}
		next[norm] = item
	}

	r.mu.Lock()
	r.bindings = next
	r.mu.Unlock()
	return errs
}

// Bind maps an accelerator to an item and returns the normalized accelerator.
func (r *Registry) Bind(accelerator, itemID string) (string, error) {
	norm, err := Normalize(accelerator)
	if err != nil {
		return "", err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return "", ErrInvalidItem
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[norm] = itemID
	return norm, nil
}

// Unbind removes an accelerator.
func (r *Registry) Unbind(accelerator string) error {
	norm, err := Normalize(accelerator)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[norm]; !ok {
		return ErrNotBound
	}
	delete(r.bindings, norm)
	return nil
}

// Resolve returns the item bound to an accelerator.
func (r *Registry) Resolve(accelerator string) (string, bool) {
	norm, err := Normalize(accelerator)
	if err != nil {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.bindings[norm]
	return item, ok
}

// All returns all bindings sorted by accelerator.
func (r *Registry) All() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Binding, 0, len(r.bindings))
	for accel, item := range r.bindings {
		result = append(result, Binding{Accelerator: accel, ItemID: item})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Accelerator < result[j].Accelerator
	})
	return result
}

// Map returns a copy of the bindings keyed by accelerator.
func (r *Registry) Map() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.bindings))
	for k, v := range r.bindings {
		out[k] = v
	}
	return out
}

// Count returns the number of bindings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
