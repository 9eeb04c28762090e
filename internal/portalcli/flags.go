package portalcli

import "github.com/urfave/cli/v2"

var CommonOpts struct {
	Port          int
	N8nURL        string
	N8nAPIKey     string
	UsersFile     string
	SessionSecret string
	StaticDir     string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	ContactTo     string
	UploadBucket  string
}

var PortFlag = func(p int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        "port",
		Usage:       "Port to listen on",
		Value:       p,
		EnvVars:     []string{"PORT"},
		Destination: &CommonOpts.Port,
	}
}

var N8nURLFlag = cli.StringFlag{
	Name:        "n8n-url",
	Usage:       "base URL of the n8n instance",
	Value:       "http://n8n:5678",
	EnvVars:     []string{"N8N_API_URL"},
	Destination: &CommonOpts.N8nURL,
}

var N8nAPIKeyFlag = cli.StringFlag{
	Name:        "n8n-api-key",
	Usage:       "optional API key for the n8n REST API",
	EnvVars:     []string{"N8N_API_KEY"},
	Destination: &CommonOpts.N8nAPIKey,
}

var UsersFileFlag = cli.StringFlag{
	Name:        "users-file",
	Usage:       "path to the users.json credential file",
	Value:       "users.json",
	EnvVars:     []string{"USERS_FILE"},
	Destination: &CommonOpts.UsersFile,
}

var SessionSecretFlag = cli.StringFlag{
	Name:        "session-secret",
	Usage:       "secret used to sign session tokens",
	EnvVars:     []string{"SESSION_SECRET"},
	Destination: &CommonOpts.SessionSecret,
}

var StaticDirFlag = cli.StringFlag{
	Name:        "static-dir",
	Usage:       "directory holding the built frontend (served with SPA fallback)",
	Value:       "dist",
	EnvVars:     []string{"STATIC_DIR"},
	Destination: &CommonOpts.StaticDir,
}

var SMTPHostFlag = cli.StringFlag{
	Name:        "smtp-host",
	Usage:       "SMTP relay used for contact-form mail",
	Value:       "smtp.gmail.com",
	EnvVars:     []string{"SMTP_HOST"},
	Destination: &CommonOpts.SMTPHost,
}

var SMTPPortFlag = cli.IntFlag{
	Name:        "smtp-port",
	Usage:       "SMTP port (587 uses STARTTLS)",
	Value:       587,
	EnvVars:     []string{"SMTP_PORT"},
	Destination: &CommonOpts.SMTPPort,
}

var SMTPUserFlag = cli.StringFlag{
	Name:        "smtp-user",
	Usage:       "SMTP account to send contact mail as",
	EnvVars:     []string{"SMTP_USER"},
	Destination: &CommonOpts.SMTPUser,
}

var SMTPPasswordFlag = cli.StringFlag{
	Name:        "smtp-password",
	Usage:       "SMTP app password; mail is disabled when empty",
	EnvVars:     []string{"SMTP_PASSWORD"},
	Destination: &CommonOpts.SMTPPassword,
}

var ContactToFlag = cli.StringFlag{
	Name:        "contact-to",
	Usage:       "recipient of contact-form requests",
	EnvVars:     []string{"CONTACT_TO"},
	Destination: &CommonOpts.ContactTo,
}

var UploadBucketFlag = cli.StringFlag{
	Name:        "upload-bucket",
	Usage:       "S3 bucket for document uploads; uploads are disabled when empty",
	EnvVars:     []string{"UPLOAD_BUCKET"},
	Destination: &CommonOpts.UploadBucket,
}

var CommonFlags = []cli.Flag{
	&N8nURLFlag,
	&N8nAPIKeyFlag,
	&UsersFileFlag,
	&SessionSecretFlag,
	&StaticDirFlag,
	&SMTPHostFlag,
	&SMTPPortFlag,
	&SMTPUserFlag,
	&SMTPPasswordFlag,
	&ContactToFlag,
	&UploadBucketFlag,
}
