package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"tx802mcp/internal/bank"
	"tx802mcp/internal/store"
	"tx802mcp/internal/voice"
)

// fileSources reads single voice files for a bank. Unreadable files are
// reported and left out; invalid dumps are left for bank.Create to skip.
func fileSources(paths []string) ([]bank.Source, []error) {
	var sources []bank.Source
	var errs []error
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		data, err := bank.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sources = append(sources, bank.Source{Name: p, Message: data})
	}
	return sources, errs
}

// librarySources loads voices from the patch library by ID.
func librarySources(lib *store.Store, ids []int64) ([]bank.Source, []error) {
	var sources []bank.Source
	var errs []error
	for _, id := range ids {
		p, err := lib.Get(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sources = append(sources, bank.Source{Name: fmt.Sprintf("%s (ID %d)", p.Name, p.ID), Message: p.SysEx})
	}
	return sources, errs
}

// parseIDs parses a comma separated list of library IDs.
func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid patch ID %q: must be an integer", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// createBank assembles sources into a bank and writes it to out.
func createBank(log *slog.Logger, sources []bank.Source, out string) (*bank.Assembly, error) {
	a, err := bank.Create(sources)
	if a != nil {
		for _, s := range a.Skipped {
			log.Warn("skipping voice", "source", s.Name, "err", s.Err)
		}
	}
	if err != nil {
		return a, err
	}
	if err := bank.WriteFile(out, a.Data); err != nil {
		return a, err
	}
	log.Info("bank created", "file", out, "voices", a.Voices, "padding", a.Padding, "skipped", len(a.Skipped))
	return a, nil
}

type extractResult struct {
	Voices     int
	Written    int
	Inserted   int
	Duplicates int
}

// extractBank splits the bank at path into single voices, writing them to
// outDir and/or the library. With neither, the bank is only validated.
func extractBank(log *slog.Logger, path, outDir string, lib *store.Store, origin string, report bool) (extractResult, error) {
	var res extractResult
	data, err := bank.ReadFile(path)
	if err != nil {
		return res, err
	}
	slots, err := bank.Extract(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	for _, s := range slots {
		if s.Err != nil {
			log.Warn("slot not extracted", "bank", path, "err", s.Err)
			continue
		}
		res.Voices++
	}

	var errs []error
	if lib != nil {
		var patches []*store.Patch
		for _, s := range slots {
			if s.Err != nil {
				continue
			}
			patches = append(patches, &store.Patch{
				Name:     bank.LibraryName(s.Name),
				BankFile: filepath.Base(path),
				Origin:   origin,
				Hash:     s.Voice.Hash(),
				SysEx:    s.Message,
			})
		}
		res.Inserted, res.Duplicates, err = lib.InsertAll(patches)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if outDir != "" {
		res.Written, err = bank.WriteSlots(outDir, slots, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

type importResult struct {
	Files    int
	Imported int
	extractResult
}

// importFolder extracts every .syx bank found in the subfolders of root.
// The name of the folder holding a bank is recorded as its origin; files
// directly in root are ignored. A failing bank is logged and the walk goes on.
func importFolder(log *slog.Logger, root string, lib *store.Store, outDir string, report, dryRun bool) (importResult, error) {
	var res importResult
	root = filepath.Clean(root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn("cannot read", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".syx") {
			return nil
		}
		dir := filepath.Dir(path)
		if dir == root {
			return nil
		}
		origin := filepath.Base(dir)
		res.Files++

		if dryRun {
			log.Info("would import", "file", path, "origin", origin)
			res.Imported++
			return nil
		}

		var bankOut string
		if outDir != "" {
			bankOut = filepath.Join(outDir, origin, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		}
		r, err := extractBank(log, path, bankOut, lib, origin, report)
		res.Voices += r.Voices
		res.Written += r.Written
		res.Inserted += r.Inserted
		res.Duplicates += r.Duplicates
		if err != nil {
			log.Warn("failed to import bank, continuing", "file", path, "err", err)
			return nil
		}
		log.Info("imported", "file", path, "origin", origin, "inserted", r.Inserted, "duplicates", r.Duplicates)
		res.Imported++
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walk %s: %w", root, err)
	}
	if res.Files > 0 && res.Imported == 0 {
		return res, fmt.Errorf("none of %d bank files could be imported", res.Files)
	}
	return res, nil
}

// surpriseBank builds a bank from up to count voices picked at random from
// the library.
func surpriseBank(log *slog.Logger, lib *store.Store, count int, out string) (*bank.Assembly, error) {
	total, err := lib.Count()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, errors.New("no patches in the library")
	}
	n := min(count, voice.BankVoices)
	if n < 1 {
		n = voice.BankVoices
	}
	if total < n {
		log.Warn("not enough patches in the library", "available", total, "requested", n)
		n = total
	}

	ids, err := lib.RandomIDs(n)
	if err != nil {
		return nil, err
	}
	log.Info("selected random patches", "count", len(ids))

	sources, errs := librarySources(lib, ids)
	for _, err := range errs {
		log.Warn("skipping patch", "err", err)
	}
	return createBank(log, sources, out)
}
