package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deployql/deployql/pkg/manifest"
	"github.com/deployql/deployql/pkg/vars"
)

// timeRounding keeps the reported elapsed time readable.
const timeRounding = 10 * time.Millisecond

// writeOutputs writes the manifest's stack-level exports as a JSON object.
// Stack metadata and the elapsed time are always included. A declared
// stack export missing from the context fails the write.
func writeOutputs(path string, m *manifest.Manifest, vctx *vars.Context, result *RunResult, dryRun bool) error {
	if dryRun {
		log.Info().
			Str("file", path).
			Int("exports", len(m.Exports)).
			Msg("dry run, skipping outputs file")
		return nil
	}

	data := make(map[string]json.RawMessage, len(m.Exports)+3)
	putString := func(key, value string) {
		raw, _ := json.Marshal(value)
		data[key] = raw
	}
	putString(vars.MetaStackName, result.Stack)
	putString("elapsed_time", result.Duration.Round(timeRounding).String())
	if v, ok := vctx.Get(vars.MetaStackEnv); ok {
		putString(vars.MetaStackEnv, v.Text())
	}

	var missing []string
	for _, name := range m.Exports {
		if name == vars.MetaStackName || name == vars.MetaStackEnv {
			continue
		}
		value, ok := vctx.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding stack export %s: %w", name, err)
		}
		data[name] = raw
	}
	if len(missing) > 0 {
		return fmt.Errorf("stack exports not found in context: %v", missing)
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing outputs file: %w", err)
	}
	log.Info().
		Str("file", path).
		Int("exports", len(m.Exports)).
		Msg("wrote stack outputs")
	return nil
}
