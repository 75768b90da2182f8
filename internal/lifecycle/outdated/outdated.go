// Package outdated implements the OutdatedDetector: it decides
// whether a step's on-disk inputs changed since its state was recorded,
// independent of configuration changes.
package outdated

import (
	"os"
	"path/filepath"
	"time"

	"github.com/distr1/distri-parts/internal/lifecycle/parts"
)

// Report names the newest input found and when the state was written.
type Report struct {
	NewestInput string
	InputTime   time.Time
	StateTime   time.Time
}

// Detector checks whether a part's step inputs are newer than its recorded
// state.
type Detector struct{}

func New() *Detector { return &Detector{} }

// Check returns a Report if step's declared inputs on disk are newer than
// the state file's modification time, or nil if up to date (or if no state
// exists yet, which is a cache miss, not "outdated").
func (d *Detector) Check(p *parts.Part, step parts.Step, stateModTime time.Time, stateExists bool) (*Report, error) {
	if !stateExists {
		return nil, nil
	}

	var root string
	switch step {
	case parts.Pull:
		root = p.PartSourceDir()
	case parts.Build:
		root = p.PartSourceDir()
	case parts.Stage:
		root = p.PartInstallDir()
	case parts.Prime:
		root = p.PartInstallDir()
	}

	newest, newestTime, err := newestMtime(root)
	if err != nil {
		return nil, err
	}
	if newest == "" || !newestTime.After(stateModTime) {
		return nil, nil
	}
	return &Report{NewestInput: newest, InputTime: newestTime, StateTime: stateModTime}, nil
}

func newestMtime(root string) (string, time.Time, error) {
	var newest string
	var newestTime time.Time
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().After(newestTime) {
			newestTime = info.ModTime()
			newest = path
		}
		return nil
	})
	if os.IsNotExist(err) {
		return "", time.Time{}, nil
	}
	return newest, newestTime, err
}
