package natsbus

import (
	"strconv"
	"strings"
)

// Message headers
const (
	HeaderType          = "Ice-Type"
	HeaderInstance      = "Ice-Instance"
	HeaderInstanceState = "Ice-Instance-State"
	HeaderSourceTime    = "Ice-Source-Time"
	HeaderWriter        = "Ice-Writer"
	HeaderSeq           = "Ice-Seq"
	HeaderContentType   = "Content-Type"
)

const subjectRoot = "ice"

// Subject returns the subject a sample of instance is published on:
// ice.<domain>.<topic>.<instance>
func Subject(domain int, topic, instance string) string {
	return subjectRoot + "." + strconv.Itoa(domain) + "." + token(topic) + "." + token(instance)
}

// TopicFilter matches every instance of topic
func TopicFilter(domain int, topic string) string {
	return subjectRoot + "." + strconv.Itoa(domain) + "." + token(topic) + ".>"
}

// DomainFilter matches every subject of the domain
func DomainFilter(domain int) string {
	return subjectRoot + "." + strconv.Itoa(domain) + ".>"
}

// StreamName is the JetStream stream holding transient-local samples of a domain
func StreamName(domain int) string {
	return "ICE_" + strconv.Itoa(domain)
}

// token makes s usable as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
