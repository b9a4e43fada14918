package gateway

import (
	"fmt"
	"strings"
)

func suggestionsPrompt(article, language string, max int) string {
	var sb strings.Builder
	sb.WriteString("You help readers explore an article further.\n")
	if max >= 3 {
		fmt.Fprintf(&sb, "Read the article below and propose between 3 and %d short, intriguing follow-up questions a curious reader might ask next.\n", max)
	} else {
		fmt.Fprintf(&sb, "Read the article below and propose up to %d short, intriguing follow-up questions a curious reader might ask next.\n", max)
	}
	sb.WriteString("Each question must be answerable from the article or closely related general knowledge.\n")
	fmt.Fprintf(&sb, "Write the questions in %s.\n", language)
	sb.WriteString(`Reply with a JSON array of strings only, for example ["First question?", "Second question?"].` + "\n\n")
	sb.WriteString("ARTICLE:\n\"\"\"\n")
	sb.WriteString(article)
	sb.WriteString("\n\"\"\"\n")
	return sb.String()
}

func answerPrompt(suggestion, article, language string) string {
	var sb strings.Builder
	sb.WriteString("You answer a reader's follow-up question about an article.\n")
	sb.WriteString("Answer concisely and accurately, using the article as your main source.\n")
	fmt.Fprintf(&sb, "Write the answer in %s.\n", language)
	sb.WriteString("Format the answer as simple HTML using only these tags: <p>, <ul>, <ol>, <li>, <strong>, <em>.\n")
	sb.WriteString("Do not include <html>, <head> or <body> tags and do not wrap the answer in a code block such as ```html.\n\n")
	fmt.Fprintf(&sb, "QUESTION: %s\n\n", suggestion)
	sb.WriteString("ARTICLE:\n\"\"\"\n")
	sb.WriteString(article)
	sb.WriteString("\n\"\"\"\n")
	return sb.String()
}
