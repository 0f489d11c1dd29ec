package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultCheckExecInterval = 5 * time.Second

// MonitorExecutable signals once when the running binary is replaced on disk.
func MonitorExecutable(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = defaultCheckExecInterval
	}
	ch := make(chan struct{}, 1)
	entry := log.WithField("object", "infra")
	go func() {
		defer close(ch)

		exeFilename, err := os.Executable()
		if err != nil {
			entry.WithError(err).Warn("cant resolve executable path for monitor")
			return
		}
		stat, err := os.Stat(exeFilename)
		if err != nil {
			entry.WithError(err).Warn("cant stat executable for monitor")
			return
		}
		originalTime := stat.ModTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(exeFilename)
				if err != nil {
					entry.WithError(err).Warn("cant stat executable for monitor tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					entry.WithField("path", exeFilename).Info("executable changed on disk")
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
