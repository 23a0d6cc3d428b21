package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// WriteTextfile gathers all metrics and writes them in the Prometheus text
// exposition format, e.g. for node_exporter's textfile collector. The file
// is written to a temporary name in the same directory and renamed, so
// readers never see a partial file.
func WriteTextfile(gatherer prometheus.Gatherer, path string) (err error) {
	families, err := gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create textfile: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err = enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}

	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod textfile: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close textfile: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename textfile: %w", err)
	}
	return nil
}
