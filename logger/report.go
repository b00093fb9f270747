package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsReader   int64
	errorsStorage  int64
	warnsReader    int64
	warnsStorage   int64
	eventsIngested int64
	eventsDropped  int64
	s3Writes       int64
	cacheWrites    int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&warnsReader, 1)
	} else if strings.Contains(component, "storage") || strings.Contains(component, "writer") || strings.Contains(component, "cache") {
		atomic.AddInt64(&warnsStorage, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&errorsReader, 1)
	} else if strings.Contains(component, "storage") || strings.Contains(component, "writer") || strings.Contains(component, "cache") {
		atomic.AddInt64(&errorsStorage, 1)
	}
}

// IncrementEventIngested records one normalized liquidation event accepted by
// the router, together with its payload size.
func IncrementEventIngested(size int) {
	atomic.AddInt64(&eventsIngested, 1)
	recordChannel("liq_events", size)
}

// IncrementEventDropped records an event dropped by dedup or parse failure.
func IncrementEventDropped() {
	atomic.AddInt64(&eventsDropped, 1)
}

// IncrementS3Write records one durable parquet object written, with its size.
func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	recordChannel("s3_parquet_write", int(size))
}

// IncrementCacheWrite records one warm-cache write, with its payload size.
func IncrementCacheWrite(size int) {
	atomic.AddInt64(&cacheWrites, 1)
	recordChannel("cache_write", size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_reader":   atomic.LoadInt64(&errorsReader),
		"errors_storage":  atomic.LoadInt64(&errorsStorage),
		"warns_reader":    atomic.LoadInt64(&warnsReader),
		"warns_storage":   atomic.LoadInt64(&warnsStorage),
		"events_ingested": atomic.LoadInt64(&eventsIngested),
		"events_dropped":  atomic.LoadInt64(&eventsDropped),
		"s3_writes":       atomic.LoadInt64(&s3Writes),
		"cache_writes":    atomic.LoadInt64(&cacheWrites),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("LF-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("LF-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("LF-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("LF-ErrorsReader"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsReader)))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-ErrorsStorage"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsStorage)))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-WarnsReader"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsReader)))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-WarnsStorage"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsStorage)))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-EventsIngested"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&eventsIngested)))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-EventsDropped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&eventsDropped)))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-S3Writes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&s3Writes)))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-CacheWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cacheWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("LF-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("LF-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("LF-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
