// Package shortnames resolves an unqualified model alias to a canonical
// transport-qualified reference, grounded on containers/image's
// pkg/sysregistriesv2 short-name alias table, adapted from registry mirror
// aliases to model reference aliases.
package shortnames

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/containers/ramalama/internal/rlerr"
)

// entry is one row of the shortname table: alias -> canonical reference.
// Order is preserved from the file since later duplicate aliases in the same
// file win, matching sysregistriesv2's "last one wins" convention.
type entry struct {
	Alias     string `toml:"alias"`
	Reference string `toml:"reference"`
}

type tableFile struct {
	Shortname []entry `toml:"shortname"`
}

// Table is an ordered alias -> canonical-reference map loaded from a TOML document.
type Table struct {
	order []string
	byAlias map[string]string
}

// Load reads the shortname table at path. A missing file yields an empty table.
func Load(path string) (*Table, error) {
	t := &Table{byAlias: map[string]string{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Debugf("no shortname table at %s, starting empty", path)
			return t, nil
		}
		return nil, fmt.Errorf("reading shortname table %s: %w", path, err)
	}

	var tf tableFile
	if err := toml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing shortname table %s: %w", path, err)
	}
	for _, e := range tf.Shortname {
		t.set(e.Alias, e.Reference)
	}
	return t, nil
}

func (t *Table) set(alias, ref string) {
	if _, exists := t.byAlias[alias]; !exists {
		t.order = append(t.order, alias)
	}
	t.byAlias[alias] = ref
}

// Resolve maps a single input to a canonical reference. Inputs already
// containing "://" pass through unchanged (they're already qualified).
// Resolution is exact-match only — substring/prefix matches never apply.
// An unmatched shortname is a hard failure (*BadName*, per spec §4.D).
func (t *Table) Resolve(input string) (string, error) {
	if containsScheme(input) {
		return input, nil
	}
	canonical, ok := t.byAlias[input]
	if !ok {
		return "", rlerr.New(rlerr.KindBadName, fmt.Sprintf("no shortname entry for %q", input))
	}
	return canonical, nil
}

// ResolveAll resolves each element of inputs independently, per spec §4.D's
// "multi-value input is resolved element-wise".
func (t *Table) ResolveAll(inputs []string) ([]string, error) {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		resolved, err := t.Resolve(in)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func containsScheme(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '/' && s[i+2] == '/' {
			return true
		}
	}
	return false
}
