package main

import "strings"

// Characters that must not start a line: particles, small kana, closing
// punctuation.
const lineStartProhibited = "がをはにでともへやのかなよねわ" +
	"ぁぃぅぇぉっゃゅょゎ" +
	"ァィゥェォッャュョヮヵヶ" +
	"。、．，！？）」』】〉》）]｝・：；ー～"

// Characters that must not end a line.
const lineEndProhibited = "（「『【〈《([｛"

type charClass int

const (
	classOther charClass = iota
	classKanji
	classHiragana
	classKatakana
	classAlpha
	classDigit
)

func classify(r rune) charClass {
	switch {
	case (r >= 0x4E00 && r <= 0x9FFF) || (r >= 0x3400 && r <= 0x4DBF):
		return classKanji
	case r >= 0x3040 && r <= 0x309F:
		return classHiragana
	case r >= 0x30A0 && r <= 0x30FF:
		return classKatakana
	case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		return classAlpha
	case r >= '0' && r <= '9':
		return classDigit
	}
	return classOther
}

// WrapTitle breaks text into lines for which fits reports true, following
// Japanese line-breaking rules. A single character that does not fit is
// still placed on its own line.
func WrapTitle(text string, fits func(string) bool) []string {
	runes := []rune(text)
	var lines []string
	var current []rune

	for i, r := range runes {
		candidate := append(append([]rune{}, current...), r)
		if fits(string(candidate)) || len(current) == 0 {
			current = candidate
			continue
		}

		pos := bestBreak(current, runes, i)
		if pos > 0 && pos < len(current) {
			lines = append(lines, string(current[:pos]))
			current = append(append([]rune{}, current[pos:]...), r)
		} else {
			lines = append(lines, string(current))
			current = []rune{r}
		}
	}
	if len(current) > 0 {
		lines = append(lines, string(current))
	}
	if len(lines) == 0 {
		return []string{text}
	}
	return lines
}

// bestBreak scores every split position of line and returns the best one.
// next is the index in all of the rune that did not fit.
func bestBreak(line, all []rune, next int) int {
	var nextRune rune
	if next < len(all) {
		nextRune = all[next]
	}

	best, bestScore := len(line), 0
	found := false
	for pos := len(line); pos > 0; pos-- {
		start := nextRune
		if pos < len(line) {
			start = line[pos]
		}
		end := line[pos-1]

		if start != 0 && strings.ContainsRune(lineStartProhibited, start) {
			continue
		}
		if strings.ContainsRune(lineEndProhibited, end) {
			continue
		}

		endClass, startClass := classify(end), classOther
		if start != 0 {
			startClass = classify(start)
		}

		score := pos
		switch {
		case endClass == classKanji && startClass == classKanji:
			score -= 100
		case endClass == classKatakana && startClass == classKatakana:
			score -= 50
		case endClass == classAlpha && startClass == classAlpha:
			score -= 50
		case endClass == classHiragana && startClass == classKanji:
			score += 30
		}
		if endClass != startClass {
			score += 10
		}

		if !found || score > bestScore {
			best, bestScore, found = pos, score, true
		}
	}
	return best
}
