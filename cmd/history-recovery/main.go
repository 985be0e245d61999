// history-recovery is a command-line tool to rebuild GoSQLKeeper backup history from existing artifacts
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/dustin/go-humanize"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
)

var (
	// Flags
	dryRun      = flag.Bool("dry-run", false, "Print the records that would be created without writing them")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	scanLocal   = flag.Bool("local", true, "Scan the backup directory for artifacts")
	s3Bucket    = flag.String("s3-bucket", "", "Also scan this S3 bucket")
	s3Prefix    = flag.String("s3-prefix", "", "Key prefix to scan in the S3 bucket")
	s3Region    = flag.String("s3-region", "us-east-1", "S3 region")
	s3Endpoint  = flag.String("s3-endpoint", "", "Custom S3 endpoint")
	s3PathStyle = flag.Bool("s3-path-style", false, "Use path-style S3 addressing")

	// Format: {YYYYmmdd_HHMMSS}_{server}[_{job}][_{n}].sql
	artifactPattern = regexp.MustCompile(`^(\d{8}_\d{6})_(.+)\.sql$`)
	collisionSuffix = regexp.MustCompile(`_\d+$`)
)

// Artifact is a dump file found during recovery
type Artifact struct {
	Filename  string
	Path      string
	Size      int64
	ModTime   time.Time
	Timestamp time.Time
	Names     string // server and job part of the filename
	S3Key     string
}

// IsS3 reports whether the artifact was found in S3
func (a Artifact) IsS3() bool {
	return a.S3Key != ""
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := metadata.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metadata database: %v", err)
	}
	defer metadata.Close(db)

	servers, err := metadata.NewServerRepository(db).GetAllServers()
	if err != nil {
		log.Fatalf("Failed to load servers: %v", err)
	}
	jobs, err := metadata.NewJobRepository(db).GetAllJobs()
	if err != nil {
		log.Fatalf("Failed to load jobs: %v", err)
	}
	cat := newCatalog(servers, jobs)
	historyRepo := metadata.NewHistoryRepository(db)

	log.Println("Starting history recovery process...")

	var found []Artifact
	if *scanLocal {
		local := scanDirectory(cfg.BackupDirectory)
		log.Printf("Found %d artifacts in %s", len(local), cfg.BackupDirectory)
		found = append(found, local...)
	}
	if *s3Bucket != "" {
		svc, err := newS3Client()
		if err != nil {
			log.Fatalf("Failed to create S3 session: %v", err)
		}
		remote, err := scanS3(svc, *s3Bucket, *s3Prefix)
		if err != nil {
			log.Printf("Error listing S3 objects: %v", err)
		}
		log.Printf("Found %d artifacts in s3://%s/%s", len(remote), *s3Bucket, *s3Prefix)
		found = append(found, remote...)
	}

	records, skipped := plan(reconcile(found), cat, historyRepo.ExistsForPath)

	var total int64
	for _, rec := range records {
		total += rec.FileSize
		if *dryRun || *verbose {
			log.Printf("Recovered %s (%s) for server %s", rec.FilePath, humanize.Bytes(uint64(rec.FileSize)), rec.ServerID)
		}
	}

	log.Printf("\nRecovery Summary:")
	log.Printf("- Records to create: %d", len(records))
	log.Printf("- Artifacts skipped: %d", skipped)
	log.Printf("- Total size: %s", humanize.Bytes(uint64(total)))

	if *dryRun {
		log.Println("Dry run completed - no changes were saved")
		return
	}
	if err := historyRepo.Import(records); err != nil {
		log.Fatalf("Failed to import history: %v", err)
	}
	log.Println("History saved successfully!")
}

// parseArtifactName splits an artifact filename into its timestamp and names part
func parseArtifactName(name string) (time.Time, string, bool) {
	matches := artifactPattern.FindStringSubmatch(name)
	if matches == nil {
		return time.Time{}, "", false
	}
	ts, err := time.Parse("20060102_150405", matches[1])
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, matches[2], true
}

// scanDirectory walks dir for artifact files
func scanDirectory(dir string) []Artifact {
	var artifacts []Artifact

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if *verbose {
				log.Printf("Error accessing path %s: %v", path, err)
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}

		ts, names, ok := parseArtifactName(info.Name())
		if !ok {
			if *verbose {
				log.Printf("Skipping file with non-standard name: %s", info.Name())
			}
			return nil
		}
		artifacts = append(artifacts, Artifact{
			Filename:  info.Name(),
			Path:      path,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Timestamp: ts,
			Names:     names,
		})
		return nil
	})
	if err != nil {
		log.Printf("Error walking backup directory: %v", err)
	}
	return artifacts
}

func newS3Client() (s3iface.S3API, error) {
	awsCfg := &aws.Config{
		Region:           aws.String(*s3Region),
		S3ForcePathStyle: aws.Bool(*s3PathStyle),
	}
	if *s3Endpoint != "" {
		awsCfg.Endpoint = aws.String(*s3Endpoint)
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(key, os.Getenv("AWS_SECRET_ACCESS_KEY"), "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}
	return s3.New(sess), nil
}

// scanS3 lists artifact objects under prefix
func scanS3(svc s3iface.S3API, bucket, prefix string) ([]Artifact, error) {
	var artifacts []Artifact

	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	err := svc.ListObjectsV2Pages(params, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			filename := filepath.Base(key)

			ts, names, ok := parseArtifactName(filename)
			if !ok {
				if *verbose {
					log.Printf("Skipping S3 object with non-standard name: %s", key)
				}
				continue
			}
			artifacts = append(artifacts, Artifact{
				Filename:  filename,
				Path:      fmt.Sprintf("s3://%s/%s", bucket, key),
				Size:      aws.Int64Value(obj.Size),
				ModTime:   aws.TimeValue(obj.LastModified),
				Timestamp: ts,
				Names:     names,
				S3Key:     key,
			})
		}
		return true
	})
	return artifacts, err
}

// reconcile keeps one artifact per filename, preferring the local copy
func reconcile(artifacts []Artifact) []Artifact {
	byName := make(map[string]Artifact)
	for _, a := range artifacts {
		existing, ok := byName[a.Filename]
		if !ok || (existing.IsS3() && !a.IsS3()) {
			if ok && *verbose {
				log.Printf("Found %s in both local and S3 storage", a.Filename)
			}
			byName[a.Filename] = a
		}
	}

	out := make([]Artifact, 0, len(byName))
	for _, a := range byName {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// catalog resolves the names part of an artifact to a server and job
type catalog struct {
	servers []metadata.ServerProfile
	jobs    map[string][]metadata.Job // by server id
}

func newCatalog(servers []metadata.ServerProfile, jobs []metadata.Job) *catalog {
	c := &catalog{jobs: make(map[string][]metadata.Job)}
	c.servers = append(c.servers, servers...)
	// longest names first so "prod_eu" wins over "prod"
	sort.Slice(c.servers, func(i, j int) bool { return len(c.servers[i].Name) > len(c.servers[j].Name) })
	for _, j := range jobs {
		c.jobs[j.ServerID] = append(c.jobs[j.ServerID], j)
	}
	return c
}

// match returns the server and, when one matches, the job named by names
func (c *catalog) match(names string) (*metadata.ServerProfile, *metadata.Job) {
	for i := range c.servers {
		server := &c.servers[i]
		prefix := database.SanitizeName(server.Name)
		if names != prefix && !strings.HasPrefix(names, prefix+"_") {
			continue
		}
		rest := strings.TrimPrefix(strings.TrimPrefix(names, prefix), "_")
		if rest == "" {
			return server, nil
		}
		for _, candidate := range []string{rest, collisionSuffix.ReplaceAllString(rest, "")} {
			for k := range c.jobs[server.ID] {
				job := &c.jobs[server.ID][k]
				if database.SanitizeName(job.Name) == candidate {
					return server, job
				}
			}
		}
		return server, nil
	}
	return nil, nil
}

// plan builds the records to import for artifacts with no history yet. It
// returns the records and the number of artifacts skipped.
func plan(artifacts []Artifact, cat *catalog, exists func(path string) (bool, error)) ([]metadata.HistoryRecord, int) {
	var records []metadata.HistoryRecord
	skipped := 0

	for _, a := range artifacts {
		server, job := cat.match(a.Names)
		if server == nil {
			log.Printf("Skipping %s: no server matches %q", a.Filename, a.Names)
			skipped++
			continue
		}

		known, err := exists(a.Path)
		if err != nil {
			log.Printf("Skipping %s: %v", a.Filename, err)
			skipped++
			continue
		}
		if known {
			if *verbose {
				log.Printf("Skipping %s: history already exists", a.Filename)
			}
			skipped++
			continue
		}

		completed := a.ModTime
		if completed.Before(a.Timestamp) {
			completed = a.Timestamp
		}
		source := "local storage"
		if a.IsS3() {
			source = "S3"
		}
		rec := metadata.HistoryRecord{
			ServerID:    server.ID,
			Kind:        metadata.KindBackup,
			Status:      metadata.StatusSuccess,
			StartedAt:   a.Timestamp,
			CompletedAt: &completed,
			FilePath:    a.Path,
			FileSize:    a.Size,
			Description: fmt.Sprintf("Recovered from %s", source),
		}
		if job != nil {
			id := job.ID
			rec.JobID = &id
		}
		records = append(records, rec)
	}
	return records, skipped
}
