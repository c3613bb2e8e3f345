// Package smalltalk recognises greetings and pleasantries so they can be
// answered without touching the retrieval chain.
package smalltalk

import (
	"regexp"
	"strings"
)

const (
	ToneFriendly = "friendly"
	ToneFormal   = "formal"
	TonePlayful  = "playful"
)

var replies = map[string]string{
	ToneFriendly: "Hi there! I'm happy to help. Ask me anything about your documents.",
	ToneFormal:   "Good day. Please ask a question about the loaded documents and I will do my best to answer it.",
	TonePlayful:  "Hey hey! Toss me a question about your PDFs and let's dig in.",
}

var patterns = []*regexp.Regexp{
	// greetings
	regexp.MustCompile(`^(hi|hello|hey|hiya|howdy|yo|greetings)( there)?( bot)?$`),
	regexp.MustCompile(`^good (morning|afternoon|evening|day)$`),
	// thanks
	regexp.MustCompile(`^(thanks|thank you|thx|ty|cheers)( (so|very) much)?( a lot)?$`),
	regexp.MustCompile(`^(ok|okay|cool|great|nice|awesome|perfect)( thanks| thank you)?$`),
	// pleasantries
	regexp.MustCompile(`^(how are you|how are you doing|how's it going|hows it going|what's up|whats up|sup)( today)?$`),
	regexp.MustCompile(`^(who are you|what are you|what's your name|whats your name|what is your name)$`),
	// farewells distinct from the exit keywords
	regexp.MustCompile(`^(bye|goodbye|bye bye|good night|goodnight|see you|see ya|see you later|later|take care)$`),
}

var trailing = regexp.MustCompile(`[\s\p{P}\p{S}]+$`)

// IsSmallTalk reports whether input is a greeting, thanks or similar
// pleasantry. Questions that merely open with a greeting are not small talk.
func IsSmallTalk(input string) bool {
	s := normalize(input)
	if s == "" {
		return false
	}
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Reply returns the canned answer for tone. Unknown tones get the friendly reply.
func Reply(tone string) string {
	if r, ok := replies[strings.ToLower(strings.TrimSpace(tone))]; ok {
		return r
	}
	return replies[ToneFriendly]
}

// Tones lists the recognised tones.
func Tones() []string {
	return []string{ToneFriendly, ToneFormal, TonePlayful}
}

func normalize(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.ReplaceAll(s, "’", "'")
	s = trailing.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
