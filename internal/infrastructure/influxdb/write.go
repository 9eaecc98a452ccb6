package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

// WriteDP records one merged DP value as a time-series point. It
// satisfies the coordinator's telemetry sink: non-blocking, safe to
// call on the frame path, silently dropped when disconnected.
//
// Each DP id maps to its own measurement so dashboards query them
// independently:
//
//	robot_battery     level (0-100), charging state code
//	robot_status      cleaning status code
//	robot_mode        cleaning mode code
//	robot_dock        dock state code
//	robot_clean_time  configured minutes
//	robot_temperature raw reading
//
// DPs without a numeric reading (unparsable payloads, unknown ids)
// are skipped.
func (c *Client) WriteDP(targetID, model string, dp wybot.DP) {
	if !c.IsConnected() || targetID == "" {
		return
	}

	tags := map[string]string{
		"target_id": targetID,
		"model":     model,
	}

	switch dp.ID {
	case wybot.DPBattery:
		battery := wybot.DecodeBattery(dp)
		fields := map[string]interface{}{
			"state_code": battery.RawStateCode,
		}
		if battery.Level >= 0 {
			fields["level"] = battery.Level
		}
		c.writePoint("robot_battery", tags, fields)

	case wybot.DPCleaningStatus:
		code, ok := wybot.CodeByte(dp)
		if !ok {
			return
		}
		// The raw code goes to storage; table interpretation is a
		// query-time concern because it depends on the model tag.
		c.writePoint("robot_status", tags, map[string]interface{}{
			"status_code": code,
		})

	case wybot.DPCleaningMode:
		code, ok := wybot.CodeByte(dp)
		if !ok {
			return
		}
		c.writePoint("robot_mode", tags, map[string]interface{}{
			"mode_code": code,
		})

	case wybot.DPDock:
		code, ok := wybot.CodeByte(dp)
		if !ok {
			return
		}
		c.writePoint("robot_dock", tags, map[string]interface{}{
			"dock_code": code,
		})

	case wybot.DPCleanTime:
		minutes := wybot.CleanTimeMinutesFromHex(dp.Data)
		if minutes < 0 {
			return
		}
		c.writePoint("robot_clean_time", tags, map[string]interface{}{
			"minutes": minutes,
		})

	case wybot.DPTemperature:
		value, ok := wybot.CodeByte(dp)
		if !ok {
			return
		}
		c.writePoint("robot_temperature", tags, map[string]interface{}{
			"raw": value,
		})
	}
}

// WritePoint writes a custom point for measurements outside the DP
// mapping, such as bridge uptime markers.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writePoint(measurement, tags, fields)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
