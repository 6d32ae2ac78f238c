package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Gruvbox-flavored palette (warm, muted, easy on eyes)
const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"

	colorFg       = "\x1b[38;5;223m" // Soft cream
	colorAqua     = "\x1b[38;5;108m" // Muted cyan-green, timestamps
	colorOrange   = "\x1b[38;5;208m" // Warm orange, components
	colorYellow   = "\x1b[38;5;214m" // Soft yellow, components / warnings
	colorBlue     = "\x1b[38;5;109m" // Soft blue, ids
	colorPurple   = "\x1b[38;5;175m" // Muted purple, numbers
	colorRed      = "\x1b[38;5;167m" // Warm red, errors
	colorGray     = "\x1b[38;5;245m" // Dim gray, field keys
	colorRedBg    = "\x1b[48;5;88m"
	colorYellowBg = "\x1b[48;5;58m"
)

// colorComponent picks a stable color per component name so related log
// lines group visually.
func colorComponent(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	if hash%2 == 0 {
		return colorOrange
	}
	return colorYellow
}

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  ledger.engine  Run completed  run_id=12 changes=4"
type minimalEncoder struct {
	zapcore.Encoder // Embed a base encoder for field serialization
	buf             *buffer.Buffer
}

func newMinimalEncoder() *minimalEncoder {
	// Create a base JSON encoder for field serialization (internal use only)
	baseEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	return &minimalEncoder{
		Encoder: baseEncoder,
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	// Time
	final.AppendString(colorAqua)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level: only show for WARN/ERROR with bold + background
	if ent.Level != zapcore.InfoLevel && ent.Level != zapcore.DebugLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	// Component name (abbreviated) for visual grouping
	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorComponent(ent.LoggerName))
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	// Message
	final.AppendString("  ")
	final.AppendString(colorFg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	// Fields: every field is rendered, in call order. Dropping a field
	// silently loses debugging information.
	if len(fields) > 0 {
		final.AppendString("  ")
		final.AppendString(formatFields(fields))
	}

	final.AppendString("\n")
	return final, nil
}

// levelColorString returns bold + colored + background for WARN/ERROR
func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + colorYellowBg + colorYellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + colorRedBg + colorRed + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorRedBg + colorRed + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens component names: ledger.engine -> l.engine
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

// fieldValue renders a single zap field as a string, handling every field
// type zapcore defines via a throwaway map encoder.
func fieldValue(field zapcore.Field) string {
	m := zapcore.NewMapObjectEncoder()
	field.AddTo(m)
	v, ok := m.Fields[field.Key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// formatFields renders fields as "key=value" pairs in call order, with
// value colors for ids and counters the ledger logs constantly.
func formatFields(fields []zapcore.Field) string {
	var parts []string

	for _, field := range fields {
		val := fieldValue(field)

		var colored string
		switch field.Key {
		case FieldRunID, FieldOfferingID, FieldPersonID, FieldTermID, FieldSectionID:
			colored = colorBlue + val + colorReset
		case FieldDurationMS:
			colored = colorPurple + val + colorReset + "ms"
		case FieldCount, FieldChanges, FieldDrift, FieldTotalCount:
			colored = colorPurple + val + colorReset
		case FieldError:
			colored = colorRed + val + colorReset
		default:
			colored = colorFg + val + colorReset
		}

		parts = append(parts, colorGray+field.Key+"="+colorReset+colored)
	}

	return strings.Join(parts, " ")
}
