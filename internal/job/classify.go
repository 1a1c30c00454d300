package job

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var firstInteger = regexp.MustCompile(`\d+`)

// InferStatus maps free-text progress to a status for workers that omit one.
// Precedence is fixed: cloning, analyzing, gathering, then running.
func InferStatus(progress string) Status {
	switch {
	case strings.Contains(progress, "Cloning"):
		return StatusCloning
	case strings.Contains(progress, "analysis"), strings.Contains(progress, "AI"):
		return StatusAnalyzing
	case strings.Contains(progress, "Gathering"):
		return StatusGathering
	default:
		return StatusRunning
	}
}

// ClassifyFile assigns a document kind from the file's path, extension and declared type.
func ClassifyFile(f File) DocumentKind {
	switch {
	case strings.Contains(f.Path, "tutorial"):
		return KindTutorial
	case path.Ext(f.Path) == ".yaml", f.Type == "yaml":
		return KindYAML
	case strings.Contains(f.Path, "toc"), strings.Contains(f.Path, "table"):
		return KindTOC
	default:
		return KindChapter
	}
}

// ChapterOrder returns the first integer in the file name, or 0.
func ChapterOrder(filePath string) int {
	m := firstInteger.FindString(path.Base(filePath))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

var kindRank = map[DocumentKind]int{
	KindTOC:      0,
	KindChapter:  1,
	KindTutorial: 2,
	KindYAML:     3,
}

// BuildDocuments classifies files into documents and summarises them.
// Later entries with a duplicate path replace earlier ones.
func BuildDocuments(files []File) ([]Document, *Summary) {
	byPath := make(map[string]int, len(files))
	docs := make([]Document, 0, len(files))
	for _, f := range files {
		doc := Document{
			Path:    f.Path,
			Kind:    ClassifyFile(f),
			Order:   ChapterOrder(f.Path),
			Content: f.Content,
		}
		if i, ok := byPath[f.Path]; ok {
			docs[i] = doc
			continue
		}
		byPath[f.Path] = len(docs)
		docs = append(docs, doc)
	}

	sort.SliceStable(docs, func(i, k int) bool {
		if docs[i].Kind != docs[k].Kind {
			return kindRank[docs[i].Kind] < kindRank[docs[k].Kind]
		}
		if docs[i].Order != docs[k].Order {
			return docs[i].Order < docs[k].Order
		}
		return docs[i].Path < docs[k].Path
	})

	summary := &Summary{}
	for _, d := range docs {
		switch d.Kind {
		case KindChapter:
			summary.ChaptersCount++
		case KindTutorial:
			summary.TutorialsCount++
		case KindTOC:
			summary.TOCCount++
		case KindYAML:
			summary.YAMLCount++
		}
	}
	return docs, summary
}
