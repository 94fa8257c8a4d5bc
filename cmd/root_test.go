package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

type fakeApp struct {
	scanned []signals.DetectionType
	scanErr error
	ran     bool
	closed  bool
}

func (f *fakeApp) Scan(_ context.Context, kind signals.DetectionType) (signals.ScanReport, error) {
	f.scanned = append(f.scanned, kind)
	if f.scanErr != nil {
		return signals.ScanReport{}, f.scanErr
	}
	return signals.ScanReport{ID: "scan-1", Type: kind, EventsEmitted: 2}, nil
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) Close() { f.closed = true }

func withFakeApp(t *testing.T, app *fakeApp, initErr error) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		if initErr != nil {
			return nil, initErr
		}
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScanCommandPrintsReport(t *testing.T) {
	app := &fakeApp{}
	path := withFakeApp(t, app, nil)

	out, err := execute("scan", "--type", "hire", "--config", "signalscan.yaml")
	require.NoError(t, err)
	require.Equal(t, "signalscan.yaml", *path)
	require.Equal(t, []signals.DetectionType{signals.DetectionHire}, app.scanned)
	require.True(t, app.closed)

	var report signals.ScanReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, "scan-1", report.ID)
	require.Equal(t, 2, report.EventsEmitted)
}

func TestScanCommandDefaultsToJob(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app, nil)

	_, err := execute("scan")
	require.NoError(t, err)
	require.Equal(t, []signals.DetectionType{signals.DetectionJob}, app.scanned)
}

func TestScanCommandRejectsUnknownType(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app, nil)

	_, err := execute("scan", "--type", "funding")
	require.Error(t, err)
	require.Empty(t, app.scanned)
}

func TestScanCommandPropagatesErrors(t *testing.T) {
	app := &fakeApp{scanErr: signals.ErrNoCompanies}
	withFakeApp(t, app, nil)

	_, err := execute("scan")
	require.ErrorIs(t, err, signals.ErrNoCompanies)
}

func TestServeCommandRuns(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app, nil)

	_, err := execute("serve")
	require.NoError(t, err)
	require.True(t, app.ran)
	require.True(t, app.closed)
}

func TestInitFailure(t *testing.T) {
	withFakeApp(t, nil, errors.New("bad config"))

	_, err := execute("serve")
	require.ErrorContains(t, err, "failed to initialize application services")
}

func TestResolveAppWithoutInit(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
