// Package data embeds the curated lexicon/prefix files the Analyzer Bank
// consults. Grounded on the teacher's internal/classify/crowdsec.go embed +
// loadStringFile pattern, generalized from CrowdSec threat patterns to the
// bot-lexicon and datacenter-prefix tables spec.md §4.5 requires.
package data

import (
	"bufio"
	"embed"
	"net"
	"strings"
)

//go:embed bot_lexicon.txt datacenter_prefixes.txt
var files embed.FS

var (
	botLexicon         []string
	datacenterPrefixes []*net.IPNet
)

func init() {
	botLexicon = loadLines("bot_lexicon.txt")
	for _, line := range loadLines("datacenter_prefixes.txt") {
		if _, n, err := net.ParseCIDR(line); err == nil {
			datacenterPrefixes = append(datacenterPrefixes, n)
		}
	}
}

func loadLines(name string) []string {
	f, err := files.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// BotLexicon returns the curated list of lowercase bot/crawler/automation
// tokens the User-Agent analyzer substring-matches against.
func BotLexicon() []string { return botLexicon }

// IsDatacenterIP reports whether ip falls within a known cloud/datacenter
// prefix.
func IsDatacenterIP(ip net.IP) bool {
	for _, n := range datacenterPrefixes {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
