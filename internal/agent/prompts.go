package agent

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/rahul/dealdesk/internal/workflow"
)

//go:embed prompts
var embeddedPrompts embed.FS

const promptSeparator = "\n\n---\n\n"

type promptKey struct {
	executor string
	intent   string
}

// PromptCatalogue holds every system prompt prefix, composed once at load
// from the base prompt, the executor fragments and the intent fragments.
// It is read-only after LoadPromptCatalogue returns.
type PromptCatalogue struct {
	version  string
	composed map[promptKey]string
}

// LoadPromptCatalogue reads the embedded fragments. Files under overrideDir
// with the same relative path (base.md, executors/<name>.md,
// intents/<name>.md) replace the embedded ones.
func LoadPromptCatalogue(overrideDir string) (*PromptCatalogue, error) {
	root, err := fs.Sub(embeddedPrompts, "prompts")
	if err != nil {
		return nil, err
	}
	files, err := readFragments(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts: %w", err)
	}
	if overrideDir != "" {
		overrides, err := readFragments(os.DirFS(overrideDir))
		if err != nil {
			return nil, fmt.Errorf("failed to read prompts directory: %w", err)
		}
		for name, body := range overrides {
			files[name] = body
		}
	}

	base, ok := files["base.md"]
	if !ok {
		return nil, fmt.Errorf("no base prompt found")
	}

	executors := map[string]string{}
	intents := map[string]string{}
	for name, body := range files {
		dir, file := path.Split(name)
		key := strings.TrimSuffix(file, ".md")
		switch dir {
		case "executors/":
			executors[key] = body
		case "intents/":
			intents[key] = body
		}
	}
	if _, ok := executors[workflow.ExecutorGeneral]; !ok {
		return nil, fmt.Errorf("no prompt for the %s executor", workflow.ExecutorGeneral)
	}

	c := &PromptCatalogue{
		version:  hashFragments(files),
		composed: make(map[promptKey]string, len(executors)*(len(intents)+1)),
	}
	for e, eBody := range executors {
		prefix := base + promptSeparator + eBody
		c.composed[promptKey{e, ""}] = prefix
		for i, iBody := range intents {
			c.composed[promptKey{e, i}] = prefix + promptSeparator + iBody
		}
	}
	return c, nil
}

func readFragments(fsys fs.FS) (map[string]string, error) {
	files := map[string]string{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		files[p] = strings.TrimSpace(string(data))
		return nil
	})
	return files, err
}

func hashFragments(files map[string]string) string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write([]byte(files[n]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Version identifies the loaded fragment set.
func (c *PromptCatalogue) Version() string {
	return c.version
}

// Has reports whether executor has a prompt fragment.
func (c *PromptCatalogue) Has(executor string) bool {
	_, ok := c.composed[promptKey{executor, ""}]
	return ok
}

// Compose returns the system prompt for (executor, intent) with the
// per-turn context appended. Unknown intents fall back to the executor's
// prompt, unknown executors to the general one.
func (c *PromptCatalogue) Compose(executor, intent, context string) string {
	p, ok := c.composed[promptKey{executor, intent}]
	if !ok {
		p, ok = c.composed[promptKey{executor, ""}]
	}
	if !ok {
		p = c.composed[promptKey{workflow.ExecutorGeneral, ""}]
	}
	if context != "" {
		p += promptSeparator + context
	}
	return p
}
