package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestAccessLogFlushesOnClose(t *testing.T) {
	var access bytes.Buffer
	var errs bytes.Buffer
	a := NewAccessLog(&access, &errs)

	a.Open("req-1")
	a.Record("req-1", logrus.InfoLevel, "query example.com A")
	a.Record("req-1", logrus.InfoLevel, "cache miss, forwarded")
	a.Close("req-1")

	require.Equal(t, "query example.com A\ncache miss, forwarded\n", access.String())
	require.Empty(t, errs.String())
}

func TestAccessLogRoutesErrorSpansToErrorSink(t *testing.T) {
	var access bytes.Buffer
	var errs bytes.Buffer
	a := NewAccessLog(&access, &errs)

	a.Open("req-2")
	a.Record("req-2", logrus.InfoLevel, "query broken.example A")
	a.Record("req-2", logrus.ErrorLevel, "upstream timeout")
	a.Close("req-2")

	require.Empty(t, access.String())
	require.Equal(t, "query broken.example A\nupstream timeout\n", errs.String())
}

func TestAccessLogInterleavedSpansDontMixLines(t *testing.T) {
	var access bytes.Buffer
	a := NewAccessLog(&access, &bytes.Buffer{})

	a.Open("a")
	a.Open("b")
	a.Record("a", logrus.InfoLevel, "a-line-1")
	a.Record("b", logrus.InfoLevel, "b-line-1")
	a.Record("a", logrus.InfoLevel, "a-line-2")
	a.Close("a")
	a.Record("b", logrus.InfoLevel, "b-line-2")
	a.Close("b")

	require.Equal(t, "a-line-1\na-line-2\nb-line-1\nb-line-2\n", access.String())
}

func TestAccessLogRecordBeforeOpenIsNoop(t *testing.T) {
	var access bytes.Buffer
	a := NewAccessLog(&access, &bytes.Buffer{})

	a.Record("unknown", logrus.InfoLevel, "dropped")
	a.Close("unknown")

	require.Empty(t, access.String())
}
