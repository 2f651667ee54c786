package model

import "strings"

// GuardianStyle selects the persona of the narrating guardian.
type GuardianStyle string

const (
	StyleReassuring GuardianStyle = "REASSURING"
	StyleScout      GuardianStyle = "SCOUT"
	StyleTactical   GuardianStyle = "TACTICAL"
	StyleLocal      GuardianStyle = "LOCAL"
)

// Program is a selectable guardian: a style bound to a voice.
type Program struct {
	Style       GuardianStyle `json:"style"`
	Name        string        `json:"name"`
	Voice       string        `json:"voice"`
	Description string        `json:"description"`
}

// Programs lists the guardians offered on the planning screen.
var Programs = []Program{
	{Style: StyleReassuring, Name: "THE GUARDIAN", Voice: "Kore", Description: "Calm pacing and breath control."},
	{Style: StyleScout, Name: "URBAN SCOUT", Voice: "Puck", Description: "Rapid pathfinding and visual milestones."},
	{Style: StyleTactical, Name: "OVERWATCH", Voice: "Charon", Description: "Situational awareness and perimeter integrity."},
	{Style: StyleLocal, Name: "THE PACER", Voice: "Fenrir", Description: "Street-wise context and motivation."},
}

// ProgramFor returns the program of a style. Unknown styles get the first program.
func ProgramFor(style GuardianStyle) Program {
	s := GuardianStyle(strings.ToUpper(strings.TrimSpace(string(style))))
	for _, p := range Programs {
		if p.Style == s {
			return p
		}
	}
	return Programs[0]
}

// Valid reports whether the style is one of the known programs.
func (s GuardianStyle) Valid() bool {
	for _, p := range Programs {
		if p.Style == s {
			return true
		}
	}
	return false
}
