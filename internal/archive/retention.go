package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Info holds metadata for retention decisions.
type Info struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Prefix    string    `json:"prefix,omitempty"`
	FileCount int       `json:"file_count,omitempty"`
}

// RetentionPolicy decides which archives to keep.
type RetentionPolicy interface {
	Apply(archives []Info) (keep []Info)
}

// CountPolicy keeps the N most recent archives.
type CountPolicy struct {
	MaxCount int
}

// Apply keeps the first MaxCount archives (assumed sorted newest-first).
func (p *CountPolicy) Apply(archives []Info) []Info {
	if len(archives) <= p.MaxCount {
		return archives
	}
	return archives[:p.MaxCount]
}

// AgePolicy keeps archives newer than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
}

// Apply keeps archives whose CreatedAt is within MaxAge of now.
func (p *AgePolicy) Apply(archives []Info) []Info {
	cutoff := time.Now().Add(-p.MaxAge)
	var keep []Info
	for _, a := range archives {
		if a.CreatedAt.After(cutoff) {
			keep = append(keep, a)
		}
	}
	return keep
}

// SizePolicy keeps archives until total size exceeds MaxTotalBytes.
type SizePolicy struct {
	MaxTotalBytes int64
}

// Apply keeps archives (newest-first) until adding the next would exceed the
// limit. The newest archive is always kept.
func (p *SizePolicy) Apply(archives []Info) []Info {
	var keep []Info
	var total int64
	for _, a := range archives {
		if total+a.Size > p.MaxTotalBytes && len(keep) > 0 {
			break
		}
		keep = append(keep, a)
		total += a.Size
	}
	return keep
}

// CompositePolicy keeps an archive if ANY sub-policy wants it (union).
type CompositePolicy struct {
	Policies []RetentionPolicy
}

// Apply returns the union of archives kept by any sub-policy.
func (p *CompositePolicy) Apply(archives []Info) []Info {
	kept := make(map[string]bool)
	for _, policy := range p.Policies {
		markKept(kept, policy.Apply(archives))
	}
	return keepMarked(archives, kept)
}

// PerPrefix applies Policy to the archives of each run prefix on its own, so
// CountPolicy{3} inside it keeps three archives of every run rather than
// three overall. Archives with an unreadable header share the "" group.
type PerPrefix struct {
	Policy RetentionPolicy
}

// Apply keeps what Policy keeps within each prefix group. Order is preserved.
func (p *PerPrefix) Apply(archives []Info) []Info {
	groups := make(map[string][]Info)
	for _, a := range archives {
		groups[a.Prefix] = append(groups[a.Prefix], a)
	}
	kept := make(map[string]bool)
	for _, g := range groups {
		markKept(kept, p.Policy.Apply(g))
	}
	return keepMarked(archives, kept)
}

func markKept(set map[string]bool, archives []Info) {
	for _, a := range archives {
		set[a.Path] = true
	}
}

func keepMarked(archives []Info, set map[string]bool) []Info {
	var out []Info
	for _, a := range archives {
		if set[a.Path] {
			out = append(out, a)
		}
	}
	return out
}

// List scans dir for archives and returns them sorted newest-first. The
// creation time comes from the header, or the file time when the header
// cannot be read.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}

	var archives []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		a := Info{
			Path:      filepath.Join(dir, e.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}
		if h, err := ReadHeader(a.Path); err == nil {
			a.CreatedAt = h.CreatedAt
			a.Prefix = h.Prefix
			a.FileCount = h.FileCount
		}
		archives = append(archives, a)
	}

	sort.SliceStable(archives, func(i, j int) bool {
		if !archives[i].CreatedAt.Equal(archives[j].CreatedAt) {
			return archives[i].CreatedAt.After(archives[j].CreatedAt)
		}
		return archives[i].Path > archives[j].Path
	})
	return archives, nil
}

// Plan lists dir and splits its archives, newest first, into those policy
// keeps and those it would delete. Nothing is removed.
func Plan(dir string, policy RetentionPolicy) (keep, drop []Info, err error) {
	archives, err := List(dir)
	if err != nil {
		return nil, nil, err
	}
	kept := make(map[string]bool)
	markKept(kept, policy.Apply(archives))
	for _, a := range archives {
		if kept[a.Path] {
			keep = append(keep, a)
		} else {
			drop = append(drop, a)
		}
	}
	return keep, drop, nil
}

// ApplyRetention deletes the archives in dir that policy does not keep and
// returns their paths. It stops at the first failed removal.
func ApplyRetention(dir string, policy RetentionPolicy) (deleted []string, err error) {
	_, drop, err := Plan(dir, policy)
	if err != nil {
		return nil, err
	}
	for _, a := range drop {
		if err := os.Remove(a.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(a.Path), err)
		}
		deleted = append(deleted, a.Path)
	}
	return deleted, nil
}

// ParseDuration parses duration strings like "30d", "2w", "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}

// ParseSize parses size strings like "500MB", "1GiB" or "2 GB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %q", s)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size too large: %q", s)
	}
	return int64(n), nil
}
