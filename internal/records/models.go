package records

// CreateRequest is the form payload submitted to create a weather record.
// Date is a calendar date (YYYY-MM-DD); Notes is optional free text.
type CreateRequest struct {
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Location string `json:"location" validate:"required"`
	Notes    string `json:"notes"`
}

// WeatherMetrics is the nested current-conditions structure stored with a record
type WeatherMetrics struct {
	Temperature   float64 `json:"temperature"`
	FeelsLike     float64 `json:"feels_like"`
	Description   string  `json:"description"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection string  `json:"wind_direction"`
	WindDegree    int     `json:"wind_degree"`
	Visibility    float64 `json:"visibility"`
	Pressure      float64 `json:"pressure"`
	UVIndex       float64 `json:"uv_index"`
	CloudCover    float64 `json:"cloudcover"`
	Precipitation float64 `json:"precip"`
	IsDay         string  `json:"is_day"`
}

// LocationInfo describes the resolved location of a record
type LocationInfo struct {
	Name     string `json:"name"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Lat      string `json:"lat"`
	Lon      string `json:"lon"`
	Timezone string `json:"timezone_id"`
}

// WeatherRecord is a stored unit of weather data keyed by an opaque id.
// CreatedAt is kept verbatim as the backend emits it.
type WeatherRecord struct {
	ID           string         `json:"id"`
	Date         string         `json:"date"`
	Location     string         `json:"location"`
	Notes        string         `json:"notes"`
	WeatherData  WeatherMetrics `json:"weather_data"`
	LocationInfo LocationInfo   `json:"location_info"`
	CreatedAt    string         `json:"created_at"`
}

// createResponse is the body of a successful POST /weather
type createResponse struct {
	ID string `json:"id"`
}

// errorResponse is the body of a non-2xx response
type errorResponse struct {
	Detail string `json:"detail"`
}
