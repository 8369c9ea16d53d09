package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIconAndIndent(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Status("📄", "Разбор ТЗ-насосная.docx")
	assert.Equal(t, "📄 Разбор ТЗ-насосная.docx\n", buf.String())

	buf.Reset()
	w.Status("", "дополнительная строка")
	assert.Equal(t, "   дополнительная строка\n", buf.String())
}

func TestStatusfFormats(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Statusf("📂", "Найдено %d документов в %s", 37, "archive/process")
	assert.Equal(t, "📂 Найдено 37 документов в archive/process\n", buf.String())
}

func TestMessageIcons(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Success("Индексация завершена: 214 фрагментов")
	w.Warning("OCR пропущен: tesseract не найден")
	w.Error("хранилище недоступно")

	out := buf.String()
	assert.Contains(t, out, "✅ Индексация завершена: 214 фрагментов")
	assert.Contains(t, out, "⚠️")
	assert.Contains(t, out, "OCR пропущен: tesseract не найден")
	assert.Contains(t, out, "❌ хранилище недоступно")
}

func TestFormattedVariants(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Successf("готово за %.1f с", 2.5)
	w.Warningf("%d файлов без текстового слоя", 3)
	w.Errorf("код выхода %d", 4)

	out := buf.String()
	assert.Contains(t, out, "готово за 2.5 с")
	assert.Contains(t, out, "3 файлов без текстового слоя")
	assert.Contains(t, out, "код выхода 4")
}

func TestCodeIndentsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Code("altadoc ingest ./archive\naltadoc search \"давление\"")

	lines := strings.Split(buf.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "", lines[0])
	assert.Equal(t, "  altadoc ingest ./archive", lines[1])
	assert.Equal(t, "  altadoc search \"давление\"", lines[2])
}

func TestNewline(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Newline()
	assert.Equal(t, "\n", buf.String())
}

func TestProgressPipedOutput(t *testing.T) {
	// A bytes.Buffer is not a terminal, so each call is a full plain line.
	var buf bytes.Buffer
	w := New(&buf)

	w.Progress(5, 10, "индексация documents/")
	out := buf.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "индексация documents/")
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.NotContains(t, out, "\r")
}

func TestProgressZeroTotalIsSilent(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Progress(0, 0, "пустой архив")
	assert.Empty(t, buf.String())
}

func TestProgressDoneEndsLine(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Progress(10, 10, "готово")
	w.ProgressDone()
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		current int
		total   int
		width   int
		filled  int
	}{
		{0, 100, 10, 0},
		{25, 100, 20, 5},
		{50, 100, 10, 5},
		{100, 100, 10, 10},
		{150, 100, 10, 10}, // overshoot clamps at full
	}
	for _, tt := range tests {
		bar := renderProgressBar(tt.current, tt.total, tt.width)
		assert.Equal(t, tt.filled, strings.Count(bar, "█"))
		assert.Len(t, []rune(bar), tt.width)
	}
}

func TestRenderProgressBarZeroTotal(t *testing.T) {
	bar := renderProgressBar(0, 0, 8)
	assert.Equal(t, strings.Repeat("░", 8), bar)
}
