// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// germanDetectionThreshold is the number of German function-word hits at
// which a task text is treated as German.
const germanDetectionThreshold = 3

// germanWords are high-frequency German function words plus the imperative
// verbs that typically open a German task description.
var germanWords = map[string]struct{}{
	"der": {}, "die": {}, "das": {}, "und": {}, "ist": {}, "nicht": {},
	"ein": {}, "eine": {}, "einen": {}, "mit": {}, "für": {}, "fuer": {},
	"auf": {}, "von": {}, "zu": {}, "den": {}, "dem": {}, "im": {},
	"auch": {}, "als": {}, "bitte": {}, "dann": {}, "wenn": {}, "oder": {},
	"erstelle": {}, "erstellen": {}, "schreibe": {}, "schreiben": {},
	"entwickle": {}, "implementiere": {}, "baue": {}, "datei": {},
	"aufgabe": {}, "verzeichnis": {}, "anwendung": {}, "soll": {},
	"werden": {}, "wird": {}, "kann": {}, "muss": {},
}

var germanFolder = cases.Lower(language.German)

// DetectGerman reports whether text looks German: at least
// germanDetectionThreshold distinct-position hits on the stopword list.
func DetectGerman(text string) bool {
	hits := 0
	for _, field := range strings.Fields(germanFolder.String(text)) {
		word := strings.Trim(field, ".,;:!?\"'()[]{}")
		if _, ok := germanWords[word]; ok {
			hits++
			if hits >= germanDetectionThreshold {
				return true
			}
		}
	}
	return false
}

// TranslateIfGerman returns text translated to English when the German
// heuristic fires, using the same chat primitive as every other call.
// Translation failure degrades to the original text; the pipeline must not
// lose a task because a backend hiccuped on translation.
func (g *Gateway) TranslateIfGerman(ctx context.Context, text, model string) string {
	if !DetectGerman(text) {
		return text
	}

	resp, err := g.Chat(ctx, ChatRequest{
		Messages: []Message{
			SystemMessage("You are a translator. Translate the user's text from German to English. Reply with only the translation, nothing else."),
			UserMessage(text),
		},
		Model: model,
	})
	if err != nil {
		g.logger.Warn("German translation failed, keeping original text", zap.Error(err))
		return text
	}

	translated := strings.TrimSpace(resp.Content)
	if translated == "" {
		return text
	}
	g.logger.Info("Task translated from German",
		zap.Int("original_chars", len(text)),
		zap.Int("translated_chars", len(translated)))
	return translated
}
