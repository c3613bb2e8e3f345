package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"pdf-chatbot/internal/config"
	"pdf-chatbot/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultPageNumber   = 1
)

// page is the unit of extracted text before splitting.
type page struct {
	number int
	text   string
}

type ParserConfig struct {
	Config   *config.Config
	splitter textsplitter.TextSplitter
}

func NewParser(cfg *config.Config) *ParserConfig {
	// if config is nil, use default values
	if cfg == nil {
		cfg = config.Default()
	}
	size, overlap := cfg.RAG.ChunkSize, cfg.RAG.Overlap()
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(defaultChunkOverlap, size/2)
	}
	return &ParserConfig{
		Config: cfg,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}
}

// LoadAndSplitPDFs walks dir recursively and returns the chunks of every file
// whose extension is enabled in cfg.RAG.Extensions, in lexical path order.
func LoadAndSplitPDFs(dir string, cfg *config.Config) ([]models.Chunk, error) {
	return NewParser(cfg).LoadDir(dir)
}

func (p *ParserConfig) LoadDir(dir string) ([]models.Chunk, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open documents directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("documents path %s is not a directory", dir)
	}

	var chunks []models.Chunk
	files := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !p.accepts(path) {
			return nil
		}
		fileChunks, err := p.ParseFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable document")
			return nil
		}
		log.Debug().Str("file", path).Int("chunks", len(fileChunks)).Msg("Parsed document")
		files++
		chunks = append(chunks, fileChunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk documents directory: %w", err)
	}

	log.Info().Int("files", files).Int("chunks", len(chunks)).Str("dir", dir).Msg("Loaded documents")
	return chunks, nil
}

func (p *ParserConfig) accepts(path string) bool {
	return slices.Contains(p.Config.RAG.Extensions, strings.ToLower(filepath.Ext(path)))
}

// ParseFile extracts the text of a single document and splits it into chunks.
func (p *ParserConfig) ParseFile(filePath string) ([]models.Chunk, error) {
	var (
		pages []page
		err   error
	)
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".pptx":
		pages, err = parsePPTX(filePath)
	case ".xlsx", ".xlsm", ".ods":
		pages, err = parseSpreadsheet(filePath)
	case ".md", ".markdown":
		pages, err = parseMarkdown(filePath)
	case ".txt":
		pages, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	var chunks []models.Chunk
	for _, pg := range pages {
		pageChunks, err := p.getChunks(pg.text, filePath, pg.number)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, pageChunks...)
	}
	return chunks, nil
}

func parsePDF(filePath string) ([]page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, page{number: i, text: pageText})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// DOCX has no page numbers, paragraphs are joined into one page
	var paragraphs []string
	for _, raw := range strings.Split(r.Editable().GetContent(), "</w:p>") {
		if p := strings.TrimSpace(extractTextFromXML(raw, "w:t")); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return []page{{number: defaultPageNumber, text: strings.Join(paragraphs, "\n\n")}}, nil
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// parsePPTX returns one page per slide, numbered by the slide file name.
func parsePPTX(filePath string) ([]page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []page
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		number, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		pages = append(pages, page{number: number, text: extractTextFromXML(string(data), "a:t")})
	}
	slices.SortFunc(pages, func(a, b page) int { return a.number - b.number })
	return pages, nil
}

// parseSpreadsheet reads workbooks with excelize and falls back to tealeg/xlsx
// for files excelize refuses.
func parseSpreadsheet(filePath string) ([]page, error) {
	pages, err := parseWithExcelize(filePath)
	if err == nil {
		return pages, nil
	}
	log.Debug().Err(err).Str("file", filePath).Msg("excelize failed, retrying with xlsx")
	return parseWithXLSX(filePath)
}

func parseWithExcelize(filePath string) ([]page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		pages = append(pages, page{number: sheetNum + 1, text: sheetText(sheetName, rows)})
	}
	return pages, nil
}

func parseWithXLSX(filePath string) ([]page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []page
	for sheetNum, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, page{number: sheetNum + 1, text: sheetText(sheet.Name, rows)})
	}
	return pages, nil
}

func sheetText(name string, rows [][]string) string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("Sheet: %s\n", name))
	for _, row := range rows {
		out.WriteString(strings.Join(row, "\t"))
		out.WriteString("\n")
	}
	return out.String()
}

func parseMarkdown(filePath string) ([]page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []page{{number: defaultPageNumber, text: markdownToText(data)}}, nil
}

func parseText(filePath string) ([]page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []page{{number: defaultPageNumber, text: string(data)}}, nil
}

// markdownToText drops markdown syntax and keeps the readable text so it
// embeds the same way as text pulled from a PDF.
func markdownToText(src []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			} else {
				buf.WriteByte('\n')
			}
		default:
			if !entering && n.Type() == ast.TypeBlock {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// extractTextFromXML concatenates the inner text of every <tag> element,
// with or without attributes.
func extractTextFromXML(xmlContent, tag string) string {
	re := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `(?:\s[^>]*)?>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
	var out strings.Builder
	for _, m := range re.FindAllStringSubmatch(xmlContent, -1) {
		out.WriteString(html.UnescapeString(m[1]))
		out.WriteString(" ")
	}
	return strings.TrimSpace(out.String())
}

// get chunks from content and page number
func (p *ParserConfig) getChunks(content, source string, pageNumber int) ([]models.Chunk, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	chunkStrings, err := p.splitter.SplitText(content)
	if err != nil {
		return nil, fmt.Errorf("failed to split page %d of %s: %w", pageNumber, source, err)
	}

	var chunks []models.Chunk
	for _, chunkString := range chunkStrings {
		chunkString = strings.TrimSpace(chunkString)
		if chunkString == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Content:    chunkString,
			Source:     source,
			PageNumber: pageNumber,
			ChunkID:    len(chunks) + 1,
		})
	}
	return chunks, nil
}
