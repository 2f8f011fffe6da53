package models

type Department struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Color    string `json:"color,omitempty"`
	IsActive bool   `json:"is_active"`
}

type Patient struct {
	ID                  int64  `json:"id"`
	MedicalRecordNumber string `json:"medical_record_number"`
	Name                string `json:"name"`
	BirthDate           string `json:"birth_date,omitempty"`
	Gender              string `json:"gender,omitempty"`
	Phone               string `json:"phone,omitempty"`
}

type ClinicSettings struct {
	ClinicName           string `json:"clinic_name"`
	Address              string `json:"address,omitempty"`
	Phone                string `json:"phone,omitempty"`
	LogoURL              string `json:"logo_url,omitempty"`
	AnnouncementLanguage string `json:"announcement_language,omitempty"`
	QueueResetTime       string `json:"queue_reset_time,omitempty"`
}
