package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFConverter handles PDF files. When MinerU is set it runs the mineru CLI
// and normalizes its Markdown; otherwise, or when mineru fails, it extracts
// plain text with ledongthuc/pdf and then pdftotext.
type PDFConverter struct {
	MinerU    string
	Pdftotext bool
}

func (c *PDFConverter) Convert(ctx context.Context, r io.Reader, filename string) (string, error) {
	workDir, err := os.MkdirTemp("", "specgest-pdf-*")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// ledongthuc/pdf and the external tools all need a file on disk.
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "document"
	}
	pdfPath := filepath.Join(workDir, base+".pdf")
	if err := writeFile(pdfPath, r); err != nil {
		return "", err
	}

	var errs []error
	if c.MinerU != "" {
		md, err := runMinerU(ctx, c.MinerU, pdfPath, filepath.Join(workDir, "out"))
		if err == nil {
			return md, nil
		}
		errs = append(errs, err)
	}

	text, err := extractPDFText(pdfPath)
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(Headingize(text)), nil
	}
	if err == nil {
		err = errors.New("pdf has no text layer")
	}
	errs = append(errs, err)

	if c.Pdftotext {
		text, err := extractPdftotext(ctx, pdfPath)
		if err == nil {
			return strings.TrimSpace(Headingize(text)), nil
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("extract pdf text: %w", errors.Join(errs...))
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	return f.Close()
}

// runMinerU runs "mineru -p <pdf> -o <dir>" and reads the Markdown it
// writes under <dir>/<name>/auto/<name>.md. Any .md file found is accepted
// when that layout differs between mineru versions.
func runMinerU(ctx context.Context, exe, pdfPath, outDir string) (string, error) {
	cmd := exec.CommandContext(ctx, exe, "-p", pdfPath, "-o", outDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("mineru: %w: %s", err, strings.TrimSpace(string(out)))
	}

	name := strings.TrimSuffix(filepath.Base(pdfPath), ".pdf")
	mdPath := filepath.Join(outDir, name, "auto", name+".md")
	if _, err := os.Stat(mdPath); err != nil {
		mdPath, err = findMarkdown(outDir)
		if err != nil {
			return "", err
		}
	}
	src, err := os.ReadFile(mdPath)
	if err != nil {
		return "", fmt.Errorf("read mineru output: %w", err)
	}
	return markdownText(src), nil
}

func findMarkdown(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan mineru output: %w", err)
	}
	if found == "" {
		return "", errors.New("mineru produced no markdown")
	}
	return found, nil
}

func extractPDFText(path string) (string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(text)
	}
	return buf.String(), nil
}

func extractPdftotext(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, "pdftotext", "-layout", "-enc", "UTF-8", path, "-").Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return strings.ReplaceAll(string(out), "\f", "\n"), nil
}
