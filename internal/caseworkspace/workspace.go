// Package caseworkspace manages the per-case directory tree on local disk:
// intake staging, per-document folders with extracted text and metadata, and
// the case-context artifacts (summary, narrative, parties). Everything here is
// rebuildable from the blob store and the catalog.
package caseworkspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	documentsDirName   = "documents"
	intakeDirName      = "intake"
	caseContextDirName = "case-context"

	extractedTextFile = "extracted-text.txt"
	metadataFile      = "metadata.json"
	summaryFile       = "case_summary.md"
	narrativeFile     = "user_narrative.md"
	partiesFile       = "parties.json"
)

// Manager creates and enumerates case workspaces under a configured root.
type Manager struct {
	root string
}

func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// CaseWorkspace returns the workspace for a case without touching disk.
func (m *Manager) CaseWorkspace(caseID string) *Workspace {
	return New(filepath.Join(m.root, caseID))
}

// CreateCaseWorkspace builds the workspace directory tree for a new case.
func (m *Manager) CreateCaseWorkspace(caseID string) (*Workspace, error) {
	w := m.CaseWorkspace(caseID)
	if err := w.EnsureLayout(); err != nil {
		return nil, err
	}
	return w, nil
}

// RemoveCaseWorkspace deletes a case's entire tree. Missing is not an error.
func (m *Manager) RemoveCaseWorkspace(caseID string) error {
	if err := os.RemoveAll(filepath.Join(m.root, caseID)); err != nil {
		return fmt.Errorf("remove case workspace: %w", err)
	}
	return nil
}

// WorkspacePaths lists every case workspace directory under the root.
func (m *Manager) WorkspacePaths() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			paths = append(paths, filepath.Join(m.root, e.Name()))
		}
	}
	return paths, nil
}

// Workspace is a single case's directory tree.
type Workspace struct {
	root string
}

// New opens a workspace at a path previously recorded in the catalog.
func New(root string) *Workspace {
	return &Workspace{root: root}
}

func (w *Workspace) Root() string           { return w.root }
func (w *Workspace) DocumentsDir() string   { return filepath.Join(w.root, documentsDirName) }
func (w *Workspace) IntakeDir() string      { return filepath.Join(w.root, intakeDirName) }
func (w *Workspace) CaseContextDir() string { return filepath.Join(w.root, caseContextDirName) }

func (w *Workspace) DocumentDir(slug string) string {
	return filepath.Join(w.DocumentsDir(), slug)
}

func (w *Workspace) OriginalPath(slug, ext string) string {
	return filepath.Join(w.DocumentDir(slug), "original."+ext)
}

func (w *Workspace) ExtractedTextPath(slug string) string {
	return filepath.Join(w.DocumentDir(slug), extractedTextFile)
}

func (w *Workspace) MetadataPath(slug string) string {
	return filepath.Join(w.DocumentDir(slug), metadataFile)
}

func (w *Workspace) SummaryPath() string {
	return filepath.Join(w.CaseContextDir(), summaryFile)
}

func (w *Workspace) SummaryBackupPath() string {
	return w.SummaryPath() + ".bak"
}

func (w *Workspace) NarrativePath() string {
	return filepath.Join(w.CaseContextDir(), narrativeFile)
}

func (w *Workspace) PartiesPath() string {
	return filepath.Join(w.CaseContextDir(), partiesFile)
}

// EnsureLayout creates the three top-level directories.
func (w *Workspace) EnsureLayout() error {
	for _, dir := range []string{w.DocumentsDir(), w.IntakeDir(), w.CaseContextDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create workspace dir: %w", err)
		}
	}
	return nil
}

// StageIntake streams an upload into the intake directory under name and
// returns the staged path.
func (w *Workspace) StageIntake(name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(w.IntakeDir(), 0755); err != nil {
		return "", fmt.Errorf("create intake dir: %w", err)
	}
	dst := filepath.Join(w.IntakeDir(), name)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create intake file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write intake file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close intake file: %w", err)
	}
	return dst, nil
}

// AllocateDocumentDir sanitizes filename into a folder slug and reserves a
// unique directory for it, suffixing -2, -3, ... on collision. The returned
// slug never exceeds the length limit.
func (w *Workspace) AllocateDocumentDir(filename string) (string, error) {
	if err := os.MkdirAll(w.DocumentsDir(), 0755); err != nil {
		return "", fmt.Errorf("create documents dir: %w", err)
	}
	base := SanitizeSlug(filename)
	slug := base
	for i := 2; ; i++ {
		err := os.Mkdir(w.DocumentDir(slug), 0755)
		if err == nil {
			return slug, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("reserve document dir: %w", err)
		}
		if i > 10000 {
			return "", fmt.Errorf("reserve document dir: no free slug for %q", filename)
		}
		suffix := fmt.Sprintf("-%d", i)
		slug = truncateSlug(base, maxSlugLength-len(suffix)) + suffix
	}
}

// PromoteIntake moves a staged file into its document folder as the original.
func (w *Workspace) PromoteIntake(stagedPath, slug, ext string) (string, error) {
	if err := os.MkdirAll(w.DocumentDir(slug), 0755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	dst := w.OriginalPath(slug, ext)
	if err := os.Rename(stagedPath, dst); err != nil {
		return "", fmt.Errorf("promote staged file: %w", err)
	}
	return dst, nil
}

// WriteExtractedText atomically persists a document's extracted text.
func (w *Workspace) WriteExtractedText(slug, text string) error {
	if err := writeFileAtomic(w.ExtractedTextPath(slug), []byte(text)); err != nil {
		return fmt.Errorf("write extracted text: %w", err)
	}
	return nil
}

func (w *Workspace) ReadExtractedText(slug string) (string, error) {
	data, err := os.ReadFile(w.ExtractedTextPath(slug))
	if err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return string(data), nil
}

// WriteMetadata atomically persists a document's analysis output.
func (w *Workspace) WriteMetadata(slug string, data []byte) error {
	if err := writeFileAtomic(w.MetadataPath(slug), data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (w *Workspace) ReadMetadata(slug string) ([]byte, error) {
	data, err := os.ReadFile(w.MetadataPath(slug))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return data, nil
}

// RemoveDocument deletes a document folder recursively. Missing is ok.
func (w *Workspace) RemoveDocument(slug string) error {
	if slug == "" {
		return nil
	}
	if err := os.RemoveAll(w.DocumentDir(slug)); err != nil {
		return fmt.Errorf("remove document dir: %w", err)
	}
	return nil
}

// WriteSummary atomically publishes the case summary.
func (w *Workspace) WriteSummary(content string) error {
	if err := os.MkdirAll(w.CaseContextDir(), 0755); err != nil {
		return fmt.Errorf("create case-context dir: %w", err)
	}
	if err := writeFileAtomic(w.SummaryPath(), []byte(content)); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func (w *Workspace) ReadSummary() (string, error) {
	data, err := os.ReadFile(w.SummaryPath())
	if err != nil {
		return "", fmt.Errorf("read summary: %w", err)
	}
	return string(data), nil
}

// SummaryExists reports whether a published summary file is present.
func (w *Workspace) SummaryExists() bool {
	_, err := os.Stat(w.SummaryPath())
	return err == nil
}

// BackupSummary copies the current summary to its .bak sibling. The original
// stays in place so a failed regeneration leaves both files. No summary, no
// backup, no error.
func (w *Workspace) BackupSummary() error {
	data, err := os.ReadFile(w.SummaryPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read summary for backup: %w", err)
	}
	if err := os.WriteFile(w.SummaryBackupPath(), data, 0644); err != nil {
		return fmt.Errorf("write summary backup: %w", err)
	}
	return nil
}

// WriteNarrative atomically persists the user-authored narrative.
func (w *Workspace) WriteNarrative(content string) error {
	if err := os.MkdirAll(w.CaseContextDir(), 0755); err != nil {
		return fmt.Errorf("create case-context dir: %w", err)
	}
	if err := writeFileAtomic(w.NarrativePath(), []byte(content)); err != nil {
		return fmt.Errorf("write narrative: %w", err)
	}
	return nil
}

func (w *Workspace) ReadNarrative() (string, error) {
	data, err := os.ReadFile(w.NarrativePath())
	if err != nil {
		return "", fmt.Errorf("read narrative: %w", err)
	}
	return string(data), nil
}

// WriteParties atomically persists the extracted parties sidecar.
func (w *Workspace) WriteParties(data []byte) error {
	if err := os.MkdirAll(w.CaseContextDir(), 0755); err != nil {
		return fmt.Errorf("create case-context dir: %w", err)
	}
	if err := writeFileAtomic(w.PartiesPath(), data); err != nil {
		return fmt.Errorf("write parties: %w", err)
	}
	return nil
}

// CleanIntake removes staged files last modified before cutoff and reports
// how many were removed.
func (w *Workspace) CleanIntake(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(w.IntakeDir())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list intake dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(w.IntakeDir(), e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// CleanDocumentLeftovers removes interrupted-upload debris under documents/:
// orphaned .tmp artifact siblings and document directories that never received
// a file. Only items last modified before cutoff are touched; os.Remove
// refuses non-empty directories, so live documents are never swept.
func (w *Workspace) CleanDocumentLeftovers(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(w.DocumentsDir())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list documents dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirInfo, err := e.Info()
		if err != nil {
			continue
		}
		dir := filepath.Join(w.DocumentsDir(), e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".tmp") {
				continue
			}
			info, err := f.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if os.Remove(filepath.Join(dir, f.Name())) == nil {
				removed++
			}
		}
		if dirInfo.ModTime().Before(cutoff) {
			if os.Remove(dir) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// writeFileAtomic publishes data at path via a temp sibling and rename.
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
