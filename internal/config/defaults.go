package config

// DefaultCandidateDirs lists the access-log locations of common web servers
// and hosting control panels. Entries may contain wildcard path segments.
var DefaultCandidateDirs = []string{
	// aaPanel (BT Panel)
	"/www/wwwlogs",
	"/www/server/nginx/logs",
	"/www/server/apache/logs",
	"/www/server/panel/logs",

	// Nginx
	"/var/log/nginx",
	"/usr/local/nginx/logs",
	"/opt/nginx/logs",

	// Apache/httpd
	"/var/log/apache2",
	"/var/log/httpd",
	"/usr/local/apache/logs",
	"/usr/local/apache2/logs",
	"/var/log/apache",
	"/opt/apache/logs",

	// LiteSpeed Enterprise / OpenLiteSpeed
	"/usr/local/lsws/logs",
	"/usr/local/lsws/admin/logs",
	"/var/log/openlitespeed",

	// CyberPanel
	"/home/*/logs",
	"/usr/local/CyberCP/logs",
	"/home/cyberpanel/logs",

	// cPanel/WHM
	"/usr/local/cpanel/logs",
	"/var/log/apache2/domlogs",
	"/usr/local/apache/domlogs",
	"/home/*/access-logs",
	"/var/cpanel/logs",

	// DirectAdmin
	"/var/log/directadmin",
	"/var/log/httpd/domains",
	"/home/*/domains/*/logs",
	"/var/www/html/*/logs",

	// Plesk
	"/var/www/vhosts/*/logs",
	"/var/log/plesk",
	"/var/log/sw-cp-server",
	"/var/www/vhosts/system/*/logs",

	// VestaCP / HestiaCP
	"/var/log/vesta",
	"/var/log/hestia",
	"/home/*/web/*/logs",

	// Caddy
	"/var/log/caddy",

	// CloudPanel
	"/home/*/htdocs/*/logs",
	"/var/log/cloudpanel",

	// Fallback (filtered by the exclude rules)
	"/var/log",
	"/home/*/public_html/logs",
}

// DefaultIncludeGlobs are matched against file names inside each directory
var DefaultIncludeGlobs = []string{
	// nginx
	"*access.log*",
	"*-access.log*",
	"*_access.log*",
	"access.log.*",

	// apache
	"*access_log*",
	"*-access_log*",
	"access_log.*",
	"other_vhosts_access.log*",
	"*-ssl_access_log*",

	// litespeed
	"*_ols.access_log*",
	"*lsws*.log*",

	// cpanel
	"*-bytes_log*",

	// directadmin
	"*.log",

	"*http*.log*",
	"*https*.log*",
}

// DefaultExcludePatterns are regular expressions tested against the
// slash-normalized path. The first match excludes the file.
var DefaultExcludePatterns = []string{
	// error logs
	`(?i)(?:^|/)(?:error|nginx_error|apache_error)\.log`,
	`(?i)(?:^|/)error[_-]log`,
	`(?i)(?:^|/).*error.*\.log$`,

	// security / WAF
	`(?i)(?:^|/)modsec.*\.log`,
	`(?i)(?:^|/)waf/`,
	`(?i)(?:^|/)security.*\.log`,

	// system
	`(?i)(?:^|/)tcp-(?:access|error)\.log`,
	`(?i)(?:^|/)ssl_error`,
	`(?i)(?:^|/)suexec\.log`,
	`(?i)(?:^|/)php[-_]?fpm.*\.log`,

	// bare access.log without a domain prefix
	`(?i)(?:^|/)access\.log$`,

	// archives
	`(?i)\.gz$`,
	`(?i)\.bz2$`,
	`(?i)\.xz$`,
	`(?i)\.zip$`,
	`\.\d{8}$`,
}

// DefaultFilenameDomainPattern recovers a domain from a log file name. The
// domain is captured by the "name" group.
const DefaultFilenameDomainPattern = `^(?P<name>.+?)(?:` +
	// OpenLiteSpeed: domain_ols.access_log.2024_01_01
	`(?:[_-]ols\.access_log(?:\.\d{4}_\d{2}_\d{2}(?:\.\d{2})?)?)|` +
	// apache/nginx: domain-access_log
	`(?:[-_]access_log(?:\.\d{4}_\d{2}_\d{2}(?:\.\d{2})?)?)|` +
	// domain.access.log.1
	`(?:\.access\.log(?:\.\d+)?)|` +
	// cpanel: domain-ssl_log
	`(?:[-_]ssl_log(?:\.\d+)?)|` +
	// domain.log
	`(?:\.log(?:\.\d+)?)|` +
	// domain-access.log
	`(?:-access\.log(?:\.\d+)?)` +
	`)$`

// DefaultAggregatedPrefix marks file names that interleave many virtual hosts
const DefaultAggregatedPrefix = "other_vhosts_access.log"
