// Package autoload registers every built-in model provider.
package autoload

import (
	_ "spendbot/pkg/llm/gemini"
	_ "spendbot/pkg/llm/ollama"
	_ "spendbot/pkg/llm/openailm"
)
