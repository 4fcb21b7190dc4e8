package engine

import (
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// newMarkdownConverter builds the reusable, goroutine-safe converter behind
// Document.Markdown:
//
//   - base plugin: strips script, style, iframe, noscript, head, meta, link,
//     input, textarea and HTML comments.
//   - commonmark plugin: standard Markdown rendering.
//   - table plugin: keeps table structure with minimal cell padding, which
//     stays readable while shrinking the output considerably.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}
