package models

import "time"

type Person struct {
	PersonID   string    `json:"person_id"`
	ExternalID string    `json:"external_id,omitempty"`
	FirstName  string    `json:"first_name"`
	MiddleName string    `json:"middle_name,omitempty"`
	LastName   string    `json:"last_name"`
	Suffix     string    `json:"suffix,omitempty"`
	Sex        string    `json:"sex"`
	Birthdate  Date      `json:"birthdate"`
	Locality   string    `json:"locality"`
	Address    string    `json:"address,omitempty"`
	Sectoral   Sectoral  `json:"sectoral"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Sectoral holds the program flags tracked for population statistics.
// Seniors are derived from the birthdate and are not stored.
type Sectoral struct {
	PWD        bool `json:"pwd"`
	SoloParent bool `json:"solo_parent"`
	Indigenous bool `json:"indigenous"`
	Voter      bool `json:"voter"`
}

const (
	PersonActive   = "active"
	PersonDeceased = "deceased"
	PersonMoved    = "moved"
	PersonPending  = "pending"
)

const (
	SexMale   = "male"
	SexFemale = "female"
)

func (p Person) FullName() string {
	name := p.FirstName
	if p.MiddleName != "" {
		name += " " + p.MiddleName
	}
	name += " " + p.LastName
	if p.Suffix != "" {
		name += " " + p.Suffix
	}
	return name
}

// LastNameKey is the folded last name used by the duplicate index.
func (p Person) LastNameKey() string {
	return NormalizeName(p.LastName)
}
