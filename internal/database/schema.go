package database

// schema is applied statement by statement on startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(255),
    plan VARCHAR(16) NOT NULL DEFAULT 'basic',
    role VARCHAR(16) NOT NULL DEFAULT 'user',
    text_credits INT NOT NULL DEFAULT 10,
    image_credits INT NOT NULL DEFAULT 0,
    video_credits INT NOT NULL DEFAULT 0,
    full_name VARCHAR(255),
    username VARCHAR(255),
    specialty VARCHAR(255),
    brand_name VARCHAR(255),
    phone VARCHAR(64),
    instagram VARCHAR(255),
    website VARCHAR(255),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    CONSTRAINT chk_text_credits CHECK (text_credits >= 0),
    CONSTRAINT chk_image_credits CHECK (image_credits >= 0),
    CONSTRAINT chk_video_credits CHECK (video_credits >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS model_credentials (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    model_name VARCHAR(64) NULL,
    platform VARCHAR(64) NULL,
    api_key TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_model_name (model_name),
    KEY idx_platform (platform)
)`,
	`CREATE TABLE IF NOT EXISTS generated_content (
    id CHAR(36) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    content_type VARCHAR(16) NOT NULL,
    content_text TEXT NULL,
    content_url TEXT NULL,
    prompt_details JSON NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    expires_at TIMESTAMP NOT NULL,
    KEY idx_user_created (user_id, created_at),
    KEY idx_expires (expires_at),
    FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE
)`,
	`CREATE TABLE IF NOT EXISTS platform_config (
    id TINYINT PRIMARY KEY,
    settings JSON NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
}
