package sqlite

import (
	"fmt"
	"time"

	"github.com/airwatch/airwatch/internal/airquality"
)

// Timestamps are stored as fixed-width UTC text so that string comparison
// and ordering agree with time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// StationModel is the stations table row.
type StationModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAt  string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt  string  `gorm:"column:updated_at;type:text;not null"`
	DeletedAt  *string `gorm:"column:deleted_at;type:text"`
	Name       string  `gorm:"column:name;type:text;not null"`
	Latitude   float64 `gorm:"column:latitude;not null"`
	Longitude  float64 `gorm:"column:longitude;not null"`
	ExternalID int64   `gorm:"column:external_id;not null"`
}

// TableName implements gorm's tabler.
func (StationModel) TableName() string {
	return "stations"
}

// PollutantModel is the pollutants table row.
type PollutantModel struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAt   string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt   string  `gorm:"column:updated_at;type:text;not null"`
	DeletedAt   *string `gorm:"column:deleted_at;type:text"`
	FullName    string  `gorm:"column:full_name;type:text;not null"`
	ShortName   string  `gorm:"column:short_name;type:text;not null"`
	Description string  `gorm:"column:description;type:text;not null;default:''"`
	WaqiName    string  `gorm:"column:waqi_name;type:text;not null"`
	IsPollutant bool    `gorm:"column:is_pollutant;not null"`
	Unit        string  `gorm:"column:unit;type:text;not null;default:''"`
}

// TableName implements gorm's tabler.
func (PollutantModel) TableName() string {
	return "pollutants"
}

// ReadingModel is the pollutant_data table row.
type ReadingModel struct {
	ID                 int64   `gorm:"column:id;primaryKey;autoIncrement"`
	CreatedAt          string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt          string  `gorm:"column:updated_at;type:text;not null"`
	DeletedAt          *string `gorm:"column:deleted_at;type:text"`
	StationID          int64   `gorm:"column:station_id;not null;index"`
	PollutantID        int64   `gorm:"column:pollutant_id;not null;index"`
	Datetime           string  `gorm:"column:datetime;type:text;not null"`
	Value              float64 `gorm:"column:value;not null"`
	IsPrediction       bool    `gorm:"column:is_prediction;not null;default:false"`
	PredictionDatetime *string `gorm:"column:prediction_datetime;type:text;check:chk_pollutant_data_prediction,(is_prediction = 1 AND prediction_datetime IS NOT NULL) OR (is_prediction = 0 AND prediction_datetime IS NULL)"`

	Station   StationModel   `gorm:"foreignKey:StationID;constraint:OnDelete:CASCADE"`
	Pollutant PollutantModel `gorm:"foreignKey:PollutantID;constraint:OnDelete:CASCADE"`
}

// TableName implements gorm's tabler.
func (ReadingModel) TableName() string {
	return "pollutant_data"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (m StationModel) toDomain() (airquality.Station, error) {
	s := airquality.Station{
		ID:         m.ID,
		Name:       m.Name,
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		ExternalID: m.ExternalID,
	}
	var err error
	if s.CreatedAt, err = parseTime(m.CreatedAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime(m.UpdatedAt); err != nil {
		return s, err
	}
	if s.DeletedAt, err = parseTimePtr(m.DeletedAt); err != nil {
		return s, err
	}
	return s, nil
}

func (m PollutantModel) toDomain() (airquality.Pollutant, error) {
	p := airquality.Pollutant{
		ID:           m.ID,
		FullName:     m.FullName,
		ShortName:    m.ShortName,
		Description:  m.Description,
		ExternalName: m.WaqiName,
		IsPollutant:  m.IsPollutant,
		Unit:         m.Unit,
	}
	var err error
	if p.CreatedAt, err = parseTime(m.CreatedAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(m.UpdatedAt); err != nil {
		return p, err
	}
	if p.DeletedAt, err = parseTimePtr(m.DeletedAt); err != nil {
		return p, err
	}
	return p, nil
}

func (m ReadingModel) toDomain() (airquality.Reading, error) {
	r := airquality.Reading{
		ID:           m.ID,
		StationID:    m.StationID,
		PollutantID:  m.PollutantID,
		Value:        m.Value,
		IsPrediction: m.IsPrediction,
	}
	var err error
	if r.Datetime, err = parseTime(m.Datetime); err != nil {
		return r, err
	}
	if r.PredictionDatetime, err = parseTimePtr(m.PredictionDatetime); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(m.CreatedAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(m.UpdatedAt); err != nil {
		return r, err
	}
	if r.DeletedAt, err = parseTimePtr(m.DeletedAt); err != nil {
		return r, err
	}
	return r, nil
}
