package models

import "time"

// WeatherQuery is the input shared by the getWeather tool and helloFlow.
type WeatherQuery struct {
	Location string `json:"location" jsonschema:"The location to get the current weather for"`
}

// WeatherReading is a single current-conditions lookup. Temperature is in Celsius.
type WeatherReading struct {
	Location    string    `json:"location"`
	Temperature float64   `json:"temperature"`
	Conditions  string    `json:"conditions"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Timestamp   time.Time `json:"timestamp"`
}
