// Package authz holds the single-role authorization gate: one configured
// master identity may mutate rules and remove or review violations; everyone
// else only reads and issues violations.
package authz

import "strings"

type Gate struct {
	masterID string
}

func NewGate(masterID string) Gate {
	return Gate{masterID: strings.TrimSpace(masterID)}
}

// IsMaster reports whether actorID is the configured master identity. An
// unconfigured gate authorizes nobody.
func (g Gate) IsMaster(actorID string) bool {
	return g.masterID != "" && actorID == g.masterID
}
