package models

// Requests for the results HTTP endpoints.

type ExperimentRequest struct {
	Name string `param:"name" json:"name" validate:"required,max=128"`
}

type PredictionsRequest struct {
	Name  string `param:"name" json:"name" validate:"required,max=128"`
	Date  string `query:"date" json:"date" validate:"omitempty,min=7,max=10"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=0,lte=100000"`
}

type TopBottomRequest struct {
	Name string `param:"name" json:"name" validate:"required,max=128"`
	Ks   string `query:"ks" json:"ks" default:"10,25,50,100,0,-100,-50,-25,-10" validate:"max=256"`
}
