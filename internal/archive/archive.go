// Package archive persists normalized chain payloads as flat CSV files under
// a deterministic {base}/{year}/{symbol}/{instrument} hierarchy. Paths are a
// pure function of the fetch target, so reruns with identical parameters
// overwrite in place and concurrent runs for different years never collide.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quantbolt/nsedata/internal/apperror"
	"github.com/quantbolt/nsedata/internal/nse"
)

// Path returns the output path for one target:
//
//	{base}/{year}/{symbol}/{instrument}/{symbol}_{instrument}_{expiry}_{start}_to_{end}.csv
//
// with dashes in the date components replaced by underscores.
func Path(baseDir string, t nse.Target) string {
	name := fmt.Sprintf("%s_%s_%s_%s_to_%s.csv",
		t.Symbol, t.Instrument,
		underscored(t.Expiry), underscored(t.Window.Start), underscored(t.Window.End))
	return filepath.Join(baseDir, strconv.Itoa(t.Window.Year), t.Symbol, t.Instrument, name)
}

// Store writes the payload to its deterministic path, creating intermediate
// directories as needed. The write goes through a temp file and rename so a
// crash mid-write never leaves a truncated CSV at the final path.
func Store(payload nse.Payload, t nse.Target, baseDir string) (string, int64, error) {
	text, err := payload.Table()
	if err != nil {
		return "", 0, apperror.New(apperror.Write, fmt.Sprintf("render payload: %v", err))
	}

	dest := Path(baseDir, t)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, apperror.New(apperror.Write, fmt.Sprintf("create directory %s: %v", dir, err))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".tmp")
	if err != nil {
		return "", 0, apperror.New(apperror.Write, fmt.Sprintf("create temp file: %v", err))
	}

	n, err := tmp.WriteString(text)
	if err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, apperror.New(apperror.Write, fmt.Sprintf("write %s: %v", dest, err))
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return "", 0, apperror.New(apperror.Write, fmt.Sprintf("rename into place: %v", err))
	}
	return dest, int64(n), nil
}

func underscored(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}
