package runlog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pnavin9/MedCompanion/doccache"
	"github.com/pnavin9/MedCompanion/series"
	"github.com/stretchr/testify/require"
)

func TestFromConversion(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	batch := &series.OutputBatch{
		OutputFolder: "/scans/ct/.medcompanion-temp",
		Total:        3,
		Succeeded:    2,
		Items: []series.ItemResult{
			{Index: 0, Filename: "a.dcm", Status: series.ItemConverted},
			{Index: 1, Filename: "b.dcm", Status: series.ItemDecodeFailed, Reason: "truncated"},
			{Index: 2, Filename: "c.dcm", Status: series.ItemConverted},
		},
	}

	run := FromConversion("/scans/ct", batch, nil, started, time.Second)
	require.Equal(t, KindConvert, run.Kind)
	require.Equal(t, OutcomePartial, run.Outcome)
	require.Equal(t, 1, run.Failed)
	require.Equal(t, []Item{{Name: "b.dcm", Status: "decode_failed", Reason: "truncated"}}, run.Items)
	require.Equal(t, batch.OutputFolder, run.Output)
}

func TestFromConversionErrors(t *testing.T) {
	run := FromConversion("/missing", nil, errors.New("no DICOM files"), time.Now(), 0)
	require.Equal(t, OutcomeFailed, run.Outcome)
	require.Equal(t, "no DICOM files", run.Error)

	run = FromConversion("/scans", &series.OutputBatch{Total: 4, Succeeded: 1}, fmt.Errorf("converting: %w", context.Canceled), time.Now(), 0)
	require.Equal(t, OutcomeCancelled, run.Outcome)
}

func TestFromPreprocess(t *testing.T) {
	paths := []string{"/docs/a.pdf", "/docs/b.pdf"}
	res := &doccache.PreprocessResult{
		Processed: 1,
		Failed:    1,
		Details: []doccache.PreprocessDetail{
			{Path: "/docs/a.pdf", Status: doccache.StatusAlreadyCached},
			{Path: "/docs/b.pdf", Status: doccache.StatusFailed, Error: "damaged"},
		},
	}

	run := FromPreprocess(paths, res, nil, time.Now(), time.Millisecond)
	require.Equal(t, KindPreprocess, run.Kind)
	require.Equal(t, "/docs/a.pdf (+1 more)", run.Input)
	require.Equal(t, OutcomePartial, run.Outcome)
	require.Len(t, run.Items, 2)
	require.Equal(t, "damaged", run.Items[1].Reason)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	var nilRecorder *Recorder
	nilRecorder.Record(ctx, &Run{})

	s := newTestStore(t)
	r := NewRecorder(s, nil)
	r.Record(ctx, &Run{Kind: KindConvert, Input: "/scans"})

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "/scans", runs[0].Input)
}
