//go:build !sqlite
// +build !sqlite

package journal

import (
	"errors"

	"chrond/internal/config"
	logx "chrond/pkg/logx"
)

func openSQLite(cfg *config.JournalConfig, log logx.Logger) (Recorder, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite journal not built: rebuild with -tags sqlite")
}
