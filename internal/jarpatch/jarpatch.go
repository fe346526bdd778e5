// Package jarpatch drives the key and endpoint rewrite over every class in
// a gamepack archive.
package jarpatch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"runtime"
	"strings"
	"sync"

	"gnomepatch/internal/classfile"
	"gnomepatch/internal/logger"
	"gnomepatch/internal/rawpatch"
	"gnomepatch/internal/rewrite"
)

// ErrIO wraps failures reading or writing the archive container.
var ErrIO = errors.New("jarpatch: archive i/o failure")

const moduleSuffix = ".class"

// IsModule reports whether an entry name is a rewrite candidate.
func IsModule(name string) bool {
	return strings.HasSuffix(name, moduleSuffix) && !strings.HasSuffix(name, "/")
}

// Patcher holds the configuration of one patch job. A Patcher is safe for
// concurrent use once built.
type Patcher struct {
	Target *rewrite.Target
	Logger logger.Logger

	// Workers bounds concurrent module patching; <= 0 uses GOMAXPROCS.
	Workers int

	// StructuralAfterRaw also runs the structural rewrite on modules the
	// raw key pass already patched, so their endpoints are replaced too.
	StructuralAfterRaw bool
}

// ModuleResult is the outcome for one module. Bytes is the input slice
// itself when Patched is false.
type ModuleResult struct {
	Bytes   []byte
	Patched bool
	Raw     bool
	Stats   rewrite.Stats
}

// Result is the outcome for an archive.
type Result struct {
	Bytes   []byte
	Patched int // modules whose bytes changed
	Modules int // entries treated as modules
	Entries int
	Stats   rewrite.Stats
}

func (p *Patcher) log() logger.Logger {
	if p.Logger == nil {
		return logger.Nop()
	}
	return p.Logger
}

// PatchModule patches one class. The raw key replacement runs first; the
// class is parsed and rewritten only when that finds nothing, unless
// StructuralAfterRaw is set. Errors from parsing wrap
// classfile.ErrMalformed.
func (p *Patcher) PatchModule(b []byte) (ModuleResult, error) {
	t := p.Target
	raw := rawpatch.ReplaceExact(b, []byte(t.OriginalKeyHex), []byte(t.KeyHex))
	res := ModuleResult{Bytes: raw.Bytes, Patched: raw.Patched, Raw: raw.Patched}
	if raw.Patched && !p.StructuralAfterRaw {
		return res, nil
	}

	cf, err := classfile.Parse(raw.Bytes)
	if err != nil {
		return ModuleResult{}, err
	}
	if n := cf.Diags.Len(); n > 0 {
		p.log().Debug("debug tables repaired",
			logger.String("class", cf.Name()),
			logger.Int("diags", n))
		for _, d := range cf.Diags.Items() {
			p.log().Debug("debug entry",
				logger.String("class", cf.Name()),
				logger.String("diag", d.String()))
		}
	}
	st, err := rewrite.Rewrite(cf, t)
	if err != nil {
		return ModuleResult{}, err
	}
	if !st.Changed() {
		return res, nil
	}
	out, err := cf.Bytes()
	if err != nil {
		return ModuleResult{}, fmt.Errorf("jarpatch: write %s: %w", cf.Name(), err)
	}
	res.Bytes, res.Patched, res.Stats = out, true, st
	return res, nil
}

type module struct {
	file *zip.File
	data []byte
	res  ModuleResult
}

// PatchArchive patches every module entry of a zip/jar archive. Other
// entries, and modules left unchanged, are copied without recompression.
// Entry order and names are preserved. Any failure aborts the job and no
// archive is returned.
func (p *Patcher) PatchArchive(ctx context.Context, b []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %v", ErrIO, err)
	}

	byIndex := make(map[int]*module)
	var mods []*module
	for i, f := range zr.File {
		if !IsModule(f.Name) {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		m := &module{file: f, data: data}
		byIndex[i] = m
		mods = append(mods, m)
	}
	p.log().Debug("archive read",
		logger.Int("entries", len(zr.File)),
		logger.Int("modules", len(mods)))

	if err := p.patchAll(ctx, mods); err != nil {
		return nil, err
	}

	res := &Result{Modules: len(mods), Entries: len(zr.File)}
	var buf bytes.Buffer
	buf.Grow(len(b))
	zw := zip.NewWriter(&buf)
	if err := zw.SetComment(zr.Comment); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, ok := byIndex[i]
		if !ok || !m.res.Patched {
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("%w: copy %s: %v", ErrIO, f.Name, err)
			}
			continue
		}
		if err := writeEntry(zw, f, m.res.Bytes); err != nil {
			return nil, err
		}
		res.Patched++
		res.Stats.Add(m.res.Stats)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: finish archive: %v", ErrIO, err)
	}
	res.Bytes = buf.Bytes()
	p.log().Info("archive patched",
		logger.Int("patched", res.Patched),
		logger.Int("modules", res.Modules),
		logger.Int("bytes", len(res.Bytes)))
	return res, nil
}

// patchAll runs PatchModule over mods on a bounded pool. The first error
// stops dispatch; results stay in their slots so order is kept.
func (p *Patcher) patchAll(ctx context.Context, mods []*module) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = max(1, min(workers, len(mods)))

	errs := make([]error, len(mods))
	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				m := mods[i]
				res, err := p.PatchModule(m.data)
				if err != nil {
					errs[i] = fmt.Errorf("jarpatch: %s: %w", m.file.Name, err)
					cancel()
					continue
				}
				m.res = res
				if res.Patched {
					p.log().Info("module patched",
						logger.String("entry", m.file.Name),
						logger.Bool("raw", res.Raw),
						logger.Int("domains", res.Stats.Domains),
						logger.Int("keys", res.Stats.ExactKeys+res.Stats.HexKeys),
						logger.Int("call_sites", res.Stats.CallSites))
				}
			}
		}()
	}

dispatch:
	for i := range mods {
		select {
		case next <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(next)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Entry is a module read out of an archive.
type Entry struct {
	Name string
	Data []byte
}

// ReadModules returns the module entries of an archive in archive order.
func ReadModules(b []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %v", ErrIO, err)
	}
	var out []Entry
	for _, f := range zr.File {
		if !IsModule(f.Name) {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: f.Name, Data: data})
	}
	return out, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, f.Name, err)
	}
	return data, nil
}

// writeEntry writes a patched module under the original name and method.
// Stored entries carry their sizes and CRC up front, since jar readers
// reject stored entries that rely on a data descriptor.
func writeEntry(zw *zip.Writer, f *zip.File, data []byte) error {
	fh := &zip.FileHeader{
		Name:          f.Name,
		Comment:       f.Comment,
		Method:        f.Method,
		Modified:      f.Modified,
		ExternalAttrs: f.ExternalAttrs,
	}
	var (
		w   io.Writer
		err error
	)
	if f.Method == zip.Store {
		fh.CRC32 = crc32.ChecksumIEEE(data)
		fh.CompressedSize64 = uint64(len(data))
		fh.UncompressedSize64 = uint64(len(data))
		w, err = zw.CreateRaw(fh)
	} else {
		fh.Method = zip.Deflate
		w, err = zw.CreateHeader(fh)
	}
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, f.Name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, f.Name, err)
	}
	return nil
}
