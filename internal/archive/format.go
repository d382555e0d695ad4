// Package archive packs the files of a run into a single compressed,
// checksummed file and restores them. An archive is a JSON header line
// followed by a gzip-compressed tar stream; the header carries the SHA-256
// of the compressed bytes so integrity can be checked without unpacking.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvandessel/nsatio/internal/fileset"
	"github.com/nvandessel/nsatio/internal/sanitize"
)

// FormatVersion is written into every header.
const FormatVersion = 1

// Ext is the file extension of run archives.
const Ext = ".nsatar"

// MaxExtractSize bounds the total bytes Extract will write (4GB).
const MaxExtractSize = 4 << 30

// Header is the plain-text first line of an archive.
type Header struct {
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Checksum  string            `json:"checksum"`
	Prefix    string            `json:"prefix"`
	NCores    int               `json:"n_cores"`
	FileCount int               `json:"file_count"`
	Bytes     int64             `json:"bytes"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RunFiles lists the files of a run that exist on disk: inputs, results,
// the manifest and the run trace.
func RunFiles(files fileset.FileSet) []string {
	candidates := append(files.Inputs(), files.Results()...)
	candidates = append(candidates, files.Manifest(), files.CheckPMS(), files.STDPFun())
	var out []string
	seen := map[string]bool{}
	for _, p := range candidates {
		if seen[p] {
			continue
		}
		seen[p] = true
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	return out
}

// Write archives the existing files of a run to path and returns the header.
func Write(path string, files fileset.FileSet, metadata map[string]string) (*Header, error) {
	paths := RunFiles(files)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files found for prefix %q in %s", files.Prefix, files.Dir)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	// The payload is staged next to the archive so its checksum is known
	// before the header is written.
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".payload*")
	if err != nil {
		return nil, fmt.Errorf("creating payload file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	sum := sha256.New()
	total, err := writePayload(io.MultiWriter(tmp, sum), paths)
	if err != nil {
		return nil, err
	}

	header := &Header{
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
		Checksum:  checksum(sum),
		Prefix:    files.Prefix,
		NCores:    files.NCores,
		FileCount: len(paths),
		Bytes:     total,
		Metadata:  metadata,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding payload: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	w := bufio.NewWriter(f)
	w.Write(headerBytes)
	w.WriteByte('\n')
	if _, err := io.Copy(w, tmp); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return header, nil
}

func writePayload(w io.Writer, paths []string) (int64, error) {
	gzw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return 0, fmt.Errorf("creating gzip writer: %w", err)
	}
	tw := tar.NewWriter(gzw)

	var total int64
	for _, p := range paths {
		n, err := addFile(tw, p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("closing tar stream: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return 0, fmt.Errorf("closing gzip writer: %w", err)
	}
	return total, nil
}

func addFile(tw *tar.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	hdr := &tar.Header{
		Name:    filepath.Base(path),
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("writing tar header: %w", err)
	}
	n, err := io.Copy(tw, f)
	if err != nil {
		return 0, fmt.Errorf("archiving %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

func checksum(h hash.Hash) string {
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// readHeader parses the header line and leaves r at the payload.
func readHeader(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported archive version %d", header.Version)
	}
	return &header, nil
}

// ReadHeader reads only the header line of an archive.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

// VerifyChecksum checks the payload of an archive against its header
// without decompressing it.
func VerifyChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := readHeader(r)
	if err != nil {
		return err
	}
	sum := sha256.New()
	if _, err := io.Copy(sum, r); err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	if actual := checksum(sum); actual != header.Checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, actual)
	}
	return nil
}

// Extract verifies an archive and unpacks it into dir, returning the paths
// written. Entries are restricted to plain file names.
func Extract(path, dir string) (*Header, []string, error) {
	if err := VerifyChecksum(path); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	header, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating directory: %w", err)
	}

	tr := tar.NewReader(gzr)
	var written []string
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, written, fmt.Errorf("reading tar stream: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := hdr.Name
		if name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsRune(name, '\x00') {
			return nil, written, fmt.Errorf("archive entry %q is not a plain file name", name)
		}
		total += hdr.Size
		if total > MaxExtractSize {
			return nil, written, fmt.Errorf("archive exceeds maximum size of %d bytes", int64(MaxExtractSize))
		}

		dst := filepath.Join(dir, name)
		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return nil, written, fmt.Errorf("creating %s: %w", name, err)
		}
		_, cerr := io.Copy(out, io.LimitReader(tr, hdr.Size))
		if err := out.Close(); cerr == nil {
			cerr = err
		}
		if cerr != nil {
			return nil, written, fmt.Errorf("extracting %s: %w", name, cerr)
		}
		written = append(written, dst)
	}
	return header, written, nil
}

// GeneratePath returns a timestamped archive path for prefix in dir. The
// prefix is reduced to a plain file name component.
func GeneratePath(dir, prefix string) string {
	name := sanitize.Name(prefix)
	if name == "" {
		name = "run"
	}
	ts := time.Now().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, ts, Ext))
}
