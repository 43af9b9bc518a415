// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teradata-labs/hive/pkg/agent"
)

func newDirectExecutor(t *testing.T) (*DirectExecutor, string) {
	t.Helper()
	dir := t.TempDir()
	writer, err := agent.NewFileWriter(dir, zap.NewNop())
	require.NoError(t, err)
	d, err := NewDirectExecutor(writer, zap.NewNop())
	require.NoError(t, err)
	return d, dir
}

func TestNewDirectExecutorRequiresWriter(t *testing.T) {
	_, err := NewDirectExecutor(nil, zap.NewNop())
	assert.ErrorContains(t, err, "file writer")
}

func TestDirectExecuteCreatesFileWithQuotedContent(t *testing.T) {
	d, dir := newDirectExecutor(t)

	content, matched, err := d.Execute("create a file named hello.txt with content 'Hello World!'")
	require.NoError(t, err)
	require.True(t, matched)
	assert.Contains(t, content, "hello.txt")
	assert.Contains(t, content, "(12 bytes)")

	data, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", string(data))
}

func TestDirectExecuteHandlesGermanTasks(t *testing.T) {
	d, dir := newDirectExecutor(t)

	_, matched, err := d.Execute("Erstelle eine Datei namens notizen.txt mit Inhalt 'Hallo Welt'")
	require.NoError(t, err)
	require.True(t, matched)

	data, err := os.ReadFile(filepath.Join(dir, "notizen.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hallo Welt", string(data))
}

func TestDirectExecuteDoesNotMatch(t *testing.T) {
	d, _ := newDirectExecutor(t)

	tests := []struct {
		name string
		task string
	}{
		{"no create verb", "analyze the quarterly numbers"},
		{"infrastructure without template", "create a kubernetes deployment"},
		{"no file name", "please create something useful"},
		{"extension not allow-listed", "create notes.exe with content 'x'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, matched, err := d.Execute(tt.task)
			require.NoError(t, err)
			assert.False(t, matched)
			assert.Empty(t, content)
		})
	}
}

func TestDirectExecuteRefusesEscapingPath(t *testing.T) {
	d, dir := newDirectExecutor(t)

	_, matched, err := d.Execute("create a file named data/../../leak.txt with content 'x'")
	require.True(t, matched)
	require.ErrorContains(t, err, "outside the project folder")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "leak.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDirectExecuteWritesHelmChart(t *testing.T) {
	d, dir := newDirectExecutor(t)

	content, matched, err := d.Execute("Create a helm chart for paymentsvc")
	require.NoError(t, err)
	require.True(t, matched)
	assert.Contains(t, content, `Created Helm chart "paymentsvc" with 4 files:`)

	chart, err := os.ReadFile(filepath.Join(dir, "paymentsvc", "Chart.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(chart), "name: paymentsvc")

	deployment, err := os.ReadFile(filepath.Join(dir, "paymentsvc", "templates", "deployment.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(deployment), "{{ .Release.Name }}-paymentsvc")

	for _, rel := range []string{"values.yaml", "templates/service.yaml"} {
		_, err := os.Stat(filepath.Join(dir, "paymentsvc", rel))
		assert.NoError(t, err, rel)
	}
}

func TestDirectExecuteHelmChartDefaultName(t *testing.T) {
	d, dir := newDirectExecutor(t)

	_, matched, err := d.Execute("generate a helm chart")
	require.NoError(t, err)
	require.True(t, matched)

	_, err = os.Stat(filepath.Join(dir, "app", "Chart.yaml"))
	assert.NoError(t, err)
}

func TestDirectExecuteWritesComposeFile(t *testing.T) {
	d, dir := newDirectExecutor(t)

	content, matched, err := d.Execute("Generate a docker compose setup for webapp")
	require.NoError(t, err)
	require.True(t, matched)
	assert.Contains(t, content, `with service "webapp"`)

	data, err := os.ReadFile(filepath.Join(dir, "docker-compose.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "webapp:")
}
