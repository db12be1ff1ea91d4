// Package warehouse provides the domain models shared across the Tidemark
// pipeline: dimension entities, raw landing records, and fact rows.
//
// These are pure domain types without behavior tied to any particular store.
// The storage package persists them; extract and transform produce and consume
// them.
package warehouse

import (
	"time"
)

const (
	// SourceForecastAPI tags raw weather rows with their origin.
	SourceForecastAPI = "open-meteo"

	// SourceRevisionAPI tags raw page rows with their origin.
	SourceRevisionAPI = "mediawiki-rest-api"
)

type (
	// Location is the reference dimension for weather facts.
	//
	// The natural key is (Name, Latitude, Longitude); ID is a surrogate key that
	// stays stable across attribute updates. Locations are never deleted.
	Location struct {
		ID        int64
		Name      string
		Latitude  float64
		Longitude float64
		Country   string
		Region    string
		City      string
	}

	// Page is one version row of the type-2 slowly-changing page dimension.
	//
	// The natural key is (ExternalID, Language). Exactly one row per natural key
	// is current at any time. A title change closes the current row and inserts
	// a fresh one with a new surrogate ID, preserving the external identity.
	//
	// Seeded pages that have not yet been matched to the external API carry
	// negative synthetic external IDs, disjoint from the API's positive ID space.
	Page struct {
		SurrogateID int64
		ExternalID  int64
		Title       string
		Namespace   int
		Language    string
		ValidFrom   time.Time
		ValidTo     *time.Time
		IsCurrent   bool
	}

	// RawRef is the lineage reference carried by every fact row, pointing back
	// to the raw landing row the fact was derived from.
	RawRef struct {
		RawTable string `json:"raw_table"`
		RawID    int64  `json:"raw_id"`
	}

	// RawWeatherRecord is one append-only landing row in raw.weather_observations.
	RawWeatherRecord struct {
		ID           int64
		LocationName string
		Latitude     float64
		Longitude    float64
		Payload      []byte
		IngestedAt   time.Time
		Source       string
	}

	// RawPageRecord is one append-only landing row in raw.encyclopedia_pages.
	//
	// The metadata columns duplicate fields extracted from Payload at ingest
	// time; the transform falls back to them when payload keys are absent.
	RawPageRecord struct {
		ID           int64
		PageID       int64
		Title        string
		Namespace    int
		RevisionID   string
		RevisionTime time.Time
		ContentSize  int64
		Language     string
		Payload      []byte
		IngestedAt   time.Time
		Source       string
	}

	// WeatherFact is one hourly observation row in core.weather, keyed by
	// (LocationID, ObservedAt). Measurements are pointers because the source
	// arrays may carry nulls; a missing value is a null fact, not an error.
	WeatherFact struct {
		LocationID      int64
		ObservedAt      time.Time
		TemperatureC    *float64
		HumidityPct     *float64
		WindSpeedMPS    *float64
		PrecipitationMM *float64
		CloudCoverPct   *float64
		RawRef          RawRef
	}

	// RevisionFact is one immutable row in core.revision, keyed by
	// (PageID, RevisionID). Duplicate keys are silently ignored on insert.
	RevisionFact struct {
		PageID       int64
		RevisionID   string
		RevisionTime time.Time
		ContentLen   int64
		FetchedAt    time.Time
		RawRef       RawRef
	}
)
