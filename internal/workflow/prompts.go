package workflow

import (
	"fmt"
	"strings"
)

// instructionsBlock is shared between the initial translation and every
// refinement round. The glossary and rules sections are omitted when empty.
func instructionsBlock(sourceLang, targetLang, glossaryBlock, rulesBlock string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a translation agent from %s to %s.\n", sourceLang, targetLang)
	if glossaryBlock != "" {
		b.WriteString(`
You have a glossary of terms to use in the translation. The text in
parentheses is a note on when the term applies. Be strict and use a glossary
term only when its note matches the context.
Respect the case of the original word, even if the case in the glossary is
different. Example: (Tree) should be (Árbol).

`)
		b.WriteString(glossaryBlock)
		b.WriteString("\n")
	}
	if rulesBlock != "" {
		b.WriteString("\nFollow these phrasing rules:\n")
		b.WriteString(rulesBlock)
		b.WriteString("\n")
	}
	return b.String()
}

func translationPrompt(text, sourceLang, targetLang, glossaryBlock, rulesBlock string) string {
	return fmt.Sprintf(`Translate the following text to %s:
%s

Follow the instructions:
%s`, targetLang, text, instructionsBlock(sourceLang, targetLang, glossaryBlock, rulesBlock))
}

func refinementPrompt(priorTranslation, feedback, sourceLang, targetLang string) string {
	return fmt.Sprintf(`These are the last two messages exchanged with the user asking for the translation:
<Messages>
assistant: %s
human: %s
</Messages>

Take the user's feedback into account and update the translation, following the instructions:
%s`, priorTranslation, feedback, instructionsBlock(sourceLang, targetLang, "", ""))
}
