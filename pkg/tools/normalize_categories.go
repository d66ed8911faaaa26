package tools

import (
	"context"
	"errors"
	"fmt"
)

const NormalizeCategoriesToolName = "normalize_categories"

// SubAgentRunner runs an isolated tool loop restricted to allowed tools and
// returns its final text.
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, sess Session, instructions string, allowed []string, prompt string) (string, error)
}

var normalizerTools = []string{
	"categories_delete",
	"categories_get",
	"categories_patch",
	"categories_post",
	"expenses_patch",
	"expenses_get",
	"wallets_get",
}

const normalizerInstructions = `Ты агент "CategoryNormalizer". Твоя задача: анализировать существующие категории расходов и объединять их в обобщенные, чтобы не было смысловых дублей.
Например, категории "ужин", "обед", "завтрак" -> "пропитание"; "такси", "бензин", "метро" -> "транспорт".
Правила работы:
1. Всегда используй существующие категории, если они соответствуют смыслу.
2. Если нужно создать новую обобщенную категорию, используй categories_post.
3. После создания или переименования категории переподключи все расходы через expenses_patch.
4. Если категория полностью объединена в другую, удали старую через categories_delete.
5. Возвращай JSON с mapping старых категорий в новые: { "oldCategoryId": "newCategoryName" }.
6. Не описывай действия текстом, сразу вызывай тулзы с нужными параметрами.`

const normalizerPrompt = "Получи список категорий и нормализуй их"

// NormalizeCategoriesTool merges duplicate expense categories by running a
// sub-agent over the category and expense tools.
type NormalizeCategoriesTool struct {
	runner SubAgentRunner
}

func NewNormalizeCategoriesTool() *NormalizeCategoriesTool {
	return &NormalizeCategoriesTool{}
}

// SetRunner injects the engine. It is called once during bootstrap, after
// the engine that owns the registry exists.
func (t *NormalizeCategoriesTool) SetRunner(r SubAgentRunner) {
	t.runner = r
}

func (t *NormalizeCategoriesTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        NormalizeCategoriesToolName,
		Description: "Анализирует названия категорий и обобщает их, чтобы не было смысловых дублей. Необходимо вызывать перед созданием отчетов.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Strict:      false,
	}
}

func (t *NormalizeCategoriesTool) Handle(ctx context.Context, sess Session, args map[string]any) (Outcome, error) {
	if t.runner == nil {
		return Outcome{}, errors.New("category normalizer is not configured")
	}
	text, err := t.runner.RunSubAgent(ctx, sess, normalizerInstructions, normalizerTools, normalizerPrompt)
	if err != nil {
		return Outcome{}, fmt.Errorf("normalize categories: %w", err)
	}
	res, err := JSONResult(map[string]string{"result": text})
	if err != nil {
		return Outcome{}, err
	}
	return Resolved(res), nil
}

// NormalizerTools returns the tool names the normalizer sub-agent may call.
func NormalizerTools() []string {
	out := make([]string, len(normalizerTools))
	copy(out, normalizerTools)
	return out
}
