package storage

import (
	"context"
	"os"
	"strconv"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/apache/arrow/go/v13/parquet"
	"github.com/apache/arrow/go/v13/parquet/compress"
	"github.com/apache/arrow/go/v13/parquet/file"
	"github.com/apache/arrow/go/v13/parquet/pqarrow"

	"github.com/XiaoConstantine/smc-go/pkg/core"
	"github.com/XiaoConstantine/smc-go/pkg/errors"
)

// Reserved column names appended after the parameter columns.
const (
	colLogLike   = "log_like"
	colLogWeight = "log_weight"

	metaExponent = "exponent"
)

// WriteParquet exports one stage snapshot as a Parquet file: one float64
// column per named parameter plus the log-likelihood and log-weight columns.
// The tempering exponent rides along in the schema metadata.
func WriteParquet(path string, names []string, step *core.ParticleStep) error {
	if len(names) != step.Dim() {
		return errors.WithFields(
			errors.New(errors.InvalidInput, "parameter name count must match particle dimension"),
			errors.Fields{"names": len(names), "dim": step.Dim()},
		)
	}
	for _, name := range names {
		if name == colLogLike || name == colLogWeight {
			return errors.WithFields(
				errors.New(errors.InvalidInput, "parameter name collides with a reserved column"),
				errors.Fields{"name": name},
			)
		}
	}

	fields := make([]arrow.Field, 0, len(names)+2)
	for _, name := range names {
		fields = append(fields, arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64})
	}
	fields = append(fields,
		arrow.Field{Name: colLogLike, Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: colLogWeight, Type: arrow.PrimitiveTypes.Float64},
	)
	metadata := arrow.NewMetadata(
		[]string{metaExponent},
		[]string{strconv.FormatFloat(step.Exponent(), 'g', -1, 64)},
	)
	schema := arrow.NewSchema(fields, &metadata)

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	n := step.Len()
	column := make([]float64, n)
	for j := 0; j < step.Dim(); j++ {
		for i := 0; i < n; i++ {
			column[i] = step.Particle(i).Params[j]
		}
		builder.Field(j).(*array.Float64Builder).AppendValues(column, nil)
	}
	for i := 0; i < n; i++ {
		column[i] = step.Particle(i).LogLike
	}
	builder.Field(step.Dim()).(*array.Float64Builder).AppendValues(column, nil)
	for i := 0; i < n; i++ {
		column[i] = step.Particle(i).LogWeight
	}
	builder.Field(step.Dim() + 1).(*array.Float64Builder).AppendValues(column, nil)

	record := builder.NewRecord()
	defer record.Release()
	table := array.NewTableFromRecords(schema, []arrow.Record{record})
	defer table.Release()

	f, err := os.Create(path)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to create Parquet file"),
			errors.Fields{"path": path},
		)
	}
	defer f.Close()

	writerProps := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	if err := pqarrow.WriteTable(table, f, table.NumRows(), writerProps, arrowProps); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to write Parquet table"),
			errors.Fields{"path": path},
		)
	}
	return nil
}

// ReadParquet reconstructs a stage snapshot written by WriteParquet and
// returns it with the parameter names in column order.
func ReadParquet(ctx context.Context, path string) (*core.ParticleStep, []string, error) {
	reader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, nil, errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open Parquet file"),
			errors.Fields{"path": path},
		)
	}
	defer reader.Close()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.StorageFailed, "failed to create Arrow reader")
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.StorageFailed, "failed to read Parquet table")
	}
	defer table.Release()

	schema := table.Schema()
	likeIndices := schema.FieldIndices(colLogLike)
	weightIndices := schema.FieldIndices(colLogWeight)
	if len(likeIndices) == 0 || len(weightIndices) == 0 {
		return nil, nil, errors.WithFields(
			errors.New(errors.StorageFailed, "file is missing the log_like or log_weight column"),
			errors.Fields{"path": path},
		)
	}

	var names []string
	var paramIndices []int
	for i, field := range schema.Fields() {
		if field.Name == colLogLike || field.Name == colLogWeight {
			continue
		}
		names = append(names, field.Name)
		paramIndices = append(paramIndices, i)
	}
	if len(names) == 0 {
		return nil, nil, errors.New(errors.StorageFailed, "file has no parameter columns")
	}

	exponent := 0.0
	metadata := schema.Metadata()
	if idx := metadata.FindKey(metaExponent); idx >= 0 {
		exponent, err = strconv.ParseFloat(metadata.Values()[idx], 64)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.StorageFailed, "failed to parse exponent metadata")
		}
	}

	n := int(table.NumRows())
	particles := make([]core.Particle, n)
	for i := range particles {
		particles[i].Params = make([]float64, len(names))
	}

	for j, colIdx := range paramIndices {
		if err := readFloat64Column(table, colIdx, func(i int, v float64) {
			particles[i].Params[j] = v
		}); err != nil {
			return nil, nil, err
		}
	}
	if err := readFloat64Column(table, likeIndices[0], func(i int, v float64) {
		particles[i].LogLike = v
	}); err != nil {
		return nil, nil, err
	}
	if err := readFloat64Column(table, weightIndices[0], func(i int, v float64) {
		particles[i].LogWeight = v
	}); err != nil {
		return nil, nil, err
	}

	step, err := core.NewParticleStep(particles, exponent)
	if err != nil {
		return nil, nil, err
	}
	return step, names, nil
}

// readFloat64Column walks every chunk of a column, invoking fn with the
// global row index.
func readFloat64Column(table arrow.Table, colIdx int, fn func(i int, v float64)) error {
	col := table.Column(colIdx)
	row := 0
	for _, data := range col.Data().Chunks() {
		chunk, ok := data.(*array.Float64)
		if !ok {
			return errors.WithFields(
				errors.New(errors.StorageFailed, "column is not float64"),
				errors.Fields{"column": col.Name()},
			)
		}
		for i := 0; i < chunk.Len(); i++ {
			fn(row, chunk.Value(i))
			row++
		}
	}
	return nil
}
