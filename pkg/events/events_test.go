package events

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/packsync/pkg/errors"
)

func TestLogrusSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := LogrusSink{Logger: logger}

	Warn(sink, errors.New("busy"), "Failed to delete", logrus.Fields{"path": "mods/a.jar"})
	Info(sink, "Downloading", nil)
	sink.Progress(Progress{Phase: "files", Processed: 1, Total: 2})

	entries := hook.AllEntries()
	assert.Len(t, entries, 3)

	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, "Failed to delete", entries[0].Message)
	assert.Equal(t, "mods/a.jar", entries[0].Data["path"])
	assert.EqualError(t, entries[0].Data[logrus.ErrorKey].(error), "busy")

	assert.Equal(t, logrus.InfoLevel, entries[1].Level)
	assert.Equal(t, logrus.DebugLevel, entries[2].Level)
	assert.Equal(t, 2, entries[2].Data["total"])
}

func TestRecorderAndMulti(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	sink := Multi(first, second, Discard)

	Debug(sink, "classified", nil)
	Warn(sink, nil, "hash mismatch", logrus.Fields{"path": "a"})
	sink.Progress(Progress{Phase: "files", Processed: 3, Total: 3})

	for _, r := range []*Recorder{first, second} {
		assert.Len(t, r.Warnings(), 1)
		assert.Len(t, r.Entries(logrus.DebugLevel), 2)
		assert.Equal(t, []Progress{{Phase: "files", Processed: 3, Total: 3}}, r.ProgressEvents())
	}
}

func TestWithFields(t *testing.T) {
	recorder := &Recorder{}
	sink := WithFields(recorder, logrus.Fields{"run": "abc", "path": "default"})

	Info(sink, "Downloading", logrus.Fields{"path": "mods/a.jar"})
	Info(sink, "Done", nil)
	sink.Progress(Progress{Phase: "files", Processed: 1, Total: 1})

	entries := recorder.Entries(logrus.DebugLevel)
	assert.Len(t, entries, 2)
	assert.Equal(t, logrus.Fields{"run": "abc", "path": "mods/a.jar"}, entries[0].Fields)
	assert.Equal(t, logrus.Fields{"run": "abc", "path": "default"}, entries[1].Fields)
	assert.Len(t, recorder.ProgressEvents(), 1)
}
