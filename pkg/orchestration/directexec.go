// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/hive/pkg/agent"
)

// DirectExecutor short-circuits requests that do not need decomposition:
// plain single-file creation, and the project templates (Helm chart, Docker
// Compose) that are cheaper to stamp out deterministically than to ask an
// LLM for. Anything it does not recognize falls through to the full
// pipeline.
type DirectExecutor struct {
	writer *agent.FileWriter
	logger *zap.Logger
}

// NewDirectExecutor returns an executor writing through the given FileWriter.
func NewDirectExecutor(writer *agent.FileWriter, logger *zap.Logger) (*DirectExecutor, error) {
	if writer == nil {
		return nil, errors.New("orchestration: direct executor requires a file writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectExecutor{writer: writer, logger: logger}, nil
}

var createVerbs = []string{
	"create", "write", "make", "generate", "save",
	"erstell", "schreib", "speicher",
}

// blockingKeywords mark tasks that look like infrastructure work without a
// matching template; those always take the full pipeline.
var blockingKeywords = []string{"docker", "k8s", "kubernetes"}

// Execute attempts the fast path for task. matched reports whether the task
// was recognized at all; err is non-nil only for recognized tasks whose
// side effects failed.
func (d *DirectExecutor) Execute(task string) (content string, matched bool, err error) {
	lower := strings.ToLower(task)

	verb := false
	for _, v := range createVerbs {
		if strings.Contains(lower, v) {
			verb = true
			break
		}
	}
	if !verb {
		return "", false, nil
	}

	if strings.Contains(lower, "helm") {
		content, err = d.writeHelmChart(task)
		return content, true, err
	}
	if strings.Contains(lower, "docker-compose") || strings.Contains(lower, "docker compose") {
		content, err = d.writeComposeFile(task)
		return content, true, err
	}
	for _, kw := range blockingKeywords {
		if strings.Contains(lower, kw) {
			return "", false, nil
		}
	}

	target, ok := agent.SaveTarget(task)
	if !ok {
		return "", false, nil
	}
	content, err = d.writeSimpleFile(task, target)
	return content, true, err
}

var inlineContentRe = regexp.MustCompile(`(?is)\b(?:contents?|text|body|inhalt|containing|saying)\s*[:=]?\s*['"](.*?)['"]`)

// writeSimpleFile creates the named file with the content quoted in the
// task, byte for byte, or empty when the task quotes none.
func (d *DirectExecutor) writeSimpleFile(task, target string) (string, error) {
	body := ""
	if m := inlineContentRe.FindStringSubmatch(task); m != nil {
		body = m[1]
	}
	path, err := d.writer.Write(target, body)
	if err != nil {
		return "", fmt.Errorf("direct file creation: %w", err)
	}
	d.logger.Info("File created directly",
		zap.String("path", path), zap.Int("bytes", len(body)))
	return fmt.Sprintf("Created %s (%d bytes)", path, len(body)), nil
}

var nameAfterRe = regexp.MustCompile(`(?i)(?:for|named|called)\s+"?([a-z0-9][a-z0-9._-]*)"?`)

// deriveName pulls a chart or service name out of the task text.
func deriveName(task, fallback string) string {
	m := nameAfterRe.FindStringSubmatch(task)
	if m == nil {
		return fallback
	}
	name := strings.ToLower(strings.Trim(m[1], `."'-`))
	switch name {
	case "", "a", "an", "the", "my", "our":
		return fallback
	}
	return name
}

func (d *DirectExecutor) writeHelmChart(task string) (string, error) {
	name := deriveName(task, "app")
	files := []struct {
		path string
		body string
	}{
		{name + "/Chart.yaml", fmt.Sprintf(chartYAML, name, name)},
		{name + "/values.yaml", valuesYAML},
		{name + "/templates/deployment.yaml", fmt.Sprintf(deploymentYAML, name, name, name, name)},
		{name + "/templates/service.yaml", fmt.Sprintf(serviceYAML, name, name)},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path, err := d.writer.Write(f.path, f.body)
		if err != nil {
			return "", fmt.Errorf("helm chart %s: %w", f.path, err)
		}
		paths = append(paths, path)
	}
	d.logger.Info("Helm chart created", zap.String("chart", name), zap.Int("files", len(paths)))
	return fmt.Sprintf("Created Helm chart %q with %d files:\n%s",
		name, len(paths), strings.Join(paths, "\n")), nil
}

func (d *DirectExecutor) writeComposeFile(task string) (string, error) {
	service := deriveName(task, "app")
	path, err := d.writer.Write("docker-compose.yml", fmt.Sprintf(composeYAML, service))
	if err != nil {
		return "", fmt.Errorf("compose file: %w", err)
	}
	d.logger.Info("Compose file created", zap.String("path", path), zap.String("service", service))
	return fmt.Sprintf("Created %s with service %q", path, service), nil
}

const chartYAML = `apiVersion: v2
name: %s
description: A Helm chart for %s
type: application
version: 0.1.0
appVersion: "1.0.0"
`

const valuesYAML = `replicaCount: 1

image:
  repository: nginx
  tag: latest
  pullPolicy: IfNotPresent

service:
  type: ClusterIP
  port: 80

resources: {}
`

const deploymentYAML = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{ .Release.Name }}-%s
spec:
  replicas: {{ .Values.replicaCount }}
  selector:
    matchLabels:
      app: {{ .Release.Name }}-%s
  template:
    metadata:
      labels:
        app: {{ .Release.Name }}-%s
    spec:
      containers:
        - name: %s
          image: "{{ .Values.image.repository }}:{{ .Values.image.tag }}"
          imagePullPolicy: {{ .Values.image.pullPolicy }}
          ports:
            - containerPort: {{ .Values.service.port }}
`

const serviceYAML = `apiVersion: v1
kind: Service
metadata:
  name: {{ .Release.Name }}-%s
spec:
  type: {{ .Values.service.type }}
  selector:
    app: {{ .Release.Name }}-%s
  ports:
    - port: {{ .Values.service.port }}
      targetPort: {{ .Values.service.port }}
`

const composeYAML = `services:
  %s:
    image: nginx:latest
    restart: unless-stopped
    ports:
      - "8080:80"
`
