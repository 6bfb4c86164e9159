package rewrite_port

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucid-vigil/honeyshift/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ActionName is the name the action registers under.
const ActionName = "rewrite_listen_port"

// RewritePortAction implements the actions.Action interface. It rewrites the
// honeypot's listening-port assignment in its line-oriented config file.
type RewritePortAction struct {
	Path  string
	Key   string
	Value string
}

// New creates the action for the config at path.
func New(path, key, value string) *RewritePortAction {
	return &RewritePortAction{Path: path, Key: key, Value: value}
}

// Name returns the unique name of the action.
func (rpa *RewritePortAction) Name() string {
	return ActionName
}

// Execute rewrites every line of the config whose trimmed content begins with
// Key to "Key = Value". The data map is only used for log correlation.
func (rpa *RewritePortAction) Execute(ctx context.Context, data map[string]interface{}) error {
	if rpa.Key == "" {
		return errors.NewConfigError(ActionName, fmt.Errorf("empty key"), map[string]interface{}{"path": rpa.Path})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	changed, err := RewriteFile(rpa.Path, rpa.Key, rpa.Value)
	if err != nil {
		return err
	}

	log.Info().
		Str("action", ActionName).
		Str("path", rpa.Path).
		Str("key", rpa.Key).
		Str("value", rpa.Value).
		Bool("changed", changed).
		Msg("Honeypot configuration rewritten.")
	return nil
}

// RewriteFile applies Rewrite to the file at path. The file is only written
// when its content changes, and then atomically with its mode preserved.
func RewriteFile(path, key, value string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, errors.NewResourceMissingError(ActionName, path, err)
	}
	old, err := os.ReadFile(path)
	if err != nil {
		return false, errors.NewResourceMissingError(ActionName, path, err)
	}

	updated := Rewrite(old, key, value)
	if bytes.Equal(old, updated) {
		return false, nil
	}

	if err := writeAtomic(path, updated, info.Mode().Perm()); err != nil {
		return false, errors.NewRewriteError(ActionName, path, err)
	}
	return true, nil
}

// Rewrite returns content with every line whose trimmed text starts with key
// replaced by "key = value". Other lines, including their line endings, pass
// through unchanged. A replaced line always ends with a newline.
func Rewrite(content []byte, key, value string) []byte {
	replacement := []byte(key + " = " + value)
	prefix := []byte(key)

	var out bytes.Buffer
	out.Grow(len(content) + len(replacement))
	for len(content) > 0 {
		line := content
		rest := []byte(nil)
		if i := bytes.IndexByte(content, '\n'); i >= 0 {
			line, rest = content[:i+1], content[i+1:]
		}
		content = rest

		if !bytes.HasPrefix(bytes.TrimSpace(line), prefix) {
			out.Write(line)
			continue
		}
		out.Write(replacement)
		if bytes.HasSuffix(line, []byte("\r\n")) {
			out.WriteString("\r\n")
		} else {
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
