package storage

import (
	_ "embed"
)

const (
	insertFlightSQL = `
INSERT INTO flights (start_time)
VALUES (?)`

	endFlightSQL = `
UPDATE flights
SET end_time = ?
WHERE id = ?`

	selectFlightSQL = `
SELECT
    id,
    start_time,
    end_time
FROM flights
WHERE
    id = ?`

	selectFlightsSQL = `
SELECT
    id,
    start_time,
    end_time
FROM flights
ORDER BY start_time, id`

	flightExistsSQL = `
SELECT EXISTS (SELECT 1 FROM flights WHERE id = ?)`

	insertPositionSQL = `
INSERT INTO drone_positions (flight_id,
                             timestamp,
                             latitude,
                             longitude,
                             altitude,
                             ground_speed,
                             ground_course)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertReadingSQL = `
INSERT INTO sensor_readings (drone_position_id,
                             timestamp,
                             temperature,
                             humidity,
                             air_quality_index,
                             is_anomaly,
                             anomaly_rule_version)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	// Positions without readings are returned with NULL reading columns
	selectFlightDataSQL = `
SELECT
    p.id,
    p.timestamp,
    p.latitude,
    p.longitude,
    p.altitude,
    p.ground_speed,
    p.ground_course,
    r.id,
    r.timestamp,
    r.temperature,
    r.humidity,
    r.air_quality_index,
    r.is_anomaly,
    r.anomaly_rule_version
FROM drone_positions p
    LEFT JOIN sensor_readings r ON r.drone_position_id = p.id
WHERE
    p.flight_id = ?
ORDER BY p.timestamp, p.id, r.id`

	selectLatestReadingsSQL = `
SELECT
    r.id,
    r.timestamp,
    r.temperature,
    r.humidity,
    r.air_quality_index,
    r.is_anomaly,
    r.anomaly_rule_version,
    p.flight_id,
    p.latitude,
    p.longitude,
    p.altitude
FROM sensor_readings r
    JOIN drone_positions p ON p.id = r.drone_position_id
ORDER BY r.timestamp DESC, r.id DESC
LIMIT ?`

	selectFilterValuesSQL = `
SELECT
    MIN(timestamp),
    MAX(timestamp)
FROM drone_positions
WHERE
    flight_id = ?`

	selectSamplesSQL = `
SELECT
    p.id,
    r.id,
    r.timestamp,
    p.latitude,
    p.longitude,
    p.altitude,
    p.ground_speed,
    p.ground_course,
    r.temperature,
    r.humidity,
    r.air_quality_index,
    r.is_anomaly,
    r.anomaly_rule_version
FROM sensor_readings r
    JOIN drone_positions p ON p.id = r.drone_position_id
WHERE
    p.flight_id = ?
    AND r.timestamp BETWEEN ? AND ?
    AND (? = 0 OR r.is_anomaly = 1)
ORDER BY r.timestamp, r.id`
)

//go:embed schema.sql
var schemaSQL string
